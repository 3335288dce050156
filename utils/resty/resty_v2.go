package resty

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeHTML = "text/html"
)

type RestyClient interface {
	// body 가 map[string]string 이고 contentType 이 form 이면 폼으로 보낸다.
	// header 는 map[string]string 또는 http.Header.
	MakeRequest(ctx context.Context, body any, header any, contentType ...string) ReadyRestyReq
	// Cookies 클라이언트 쿠키 저장소에 쌓인 쿠키 (리다이렉트 중 받은 것 포함)
	Cookies(rawURL string) []*http.Cookie
}

type ReadyRestyReq interface {
	Get(url string, queryParams ...QueryParam) (*resty.Response, error)
	Post(url string, queryParams ...QueryParam) (*resty.Response, error)
}

func NewDefaultRestyClient(trace bool, timeout ...time.Duration) RestyClient {
	restyClient := defaultRestyClient{}
	restyClient.setupClient(trace, 0, timeout...)
	return &restyClient
}

func NewDefaultRestyClientWithRetryCount(trace bool, retryCount int, timeout ...time.Duration) RestyClient {
	restyClient := defaultRestyClient{}
	restyClient.setupClient(trace, retryCount, timeout...)
	return &restyClient
}

func NewMockRestyClient(mockFuncs []MockFunc) RestyClient {
	mocks := make(map[string]map[string]MockFunc)
	for _, mockFunc := range mockFuncs {
		if _, ok := mocks[mockFunc.Method]; !ok {
			mocks[mockFunc.Method] = make(map[string]MockFunc)
		}
		mocks[mockFunc.Method][mockFunc.Path] = mockFunc
	}
	return &mockRestyClient{
		mocks: mocks,
	}
}

type QueryParam struct {
	Key   string
	Value any
}
