package resty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
)

type MockFuncResponse struct {
	Request     *resty.Request
	RawResponse *http.Response
	// string, []byte 는 그대로, 나머지는 JSON 으로 직렬화
	Body any
}

type MockFunc struct {
	Method     string
	Path       string
	ResultBody func(header any, requestBody any, param ...QueryParam) (MockFuncResponse, error)
}

type mockRestyClient struct {
	mocks map[string]map[string]MockFunc

	mu      sync.Mutex
	cookies []*http.Cookie
}

type mockReadyRestyReq struct {
	client *mockRestyClient
	body   any
	header any
}

func (client *mockRestyClient) MakeRequest(ctx context.Context, body any, header any, contentType ...string) ReadyRestyReq {
	return &mockReadyRestyReq{client: client, header: header, body: body}
}

func (client *mockRestyClient) Cookies(rawURL string) []*http.Cookie {
	client.mu.Lock()
	defer client.mu.Unlock()
	return append([]*http.Cookie(nil), client.cookies...)
}

func (m *mockReadyRestyReq) do(method, url string, queryParams ...QueryParam) (*resty.Response, error) {
	mockFunc, ok := m.client.mocks[method][url]
	if !ok {
		return nil, errors.New("mock not found for the requested method and url")
	}
	resultBody, givenError := mockFunc.ResultBody(m.header, m.body, queryParams...)
	resultResponse, createErr := CreateMockResponse(resultBody, givenError)
	if createErr != nil {
		return nil, createErr
	}

	m.client.mu.Lock()
	m.client.cookies = append(m.client.cookies, resultResponse.Cookies()...)
	m.client.mu.Unlock()

	if givenError != nil {
		return resultResponse, givenError
	}
	return resultResponse, nil
}

func (m *mockReadyRestyReq) Get(url string, queryParams ...QueryParam) (*resty.Response, error) {
	return m.do(http.MethodGet, url, queryParams...)
}

func (m *mockReadyRestyReq) Post(url string, queryParams ...QueryParam) (*resty.Response, error) {
	return m.do(http.MethodPost, url, queryParams...)
}

func CreateMockResponse(givenBody MockFuncResponse, givenError error) (*resty.Response, error) {
	var request *resty.Request
	if givenBody.Request == nil {
		request = &resty.Request{}
	} else {
		request = givenBody.Request
	}
	request.Error = givenError

	var byteGivenBody []byte
	switch body := givenBody.Body.(type) {
	case nil:
	case string:
		byteGivenBody = []byte(body)
	case []byte:
		byteGivenBody = body
	default:
		raw, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return nil, marshalErr
		}
		byteGivenBody = raw
	}

	statusCode := http.StatusOK
	header := http.Header{}
	if givenBody.RawResponse != nil {
		statusCode = givenBody.RawResponse.StatusCode
		if givenBody.RawResponse.Header != nil {
			header = givenBody.RawResponse.Header
		}
	}

	rawResponse := &http.Response{
		Status:     http.StatusText(statusCode),
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewReader(byteGivenBody)),
		Header:     header,
	}
	restyResp := &resty.Response{
		RawResponse: rawResponse,
		Request:     request,
	}
	restyResp.SetBody(byteGivenBody)
	return restyResp, nil
}
