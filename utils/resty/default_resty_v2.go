package resty

import (
	"context"
	"fmt"
	"net"
	"net/http"
	urlTool "net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type defaultRestyClient struct {
	restyClient *resty.Client
}

func (client *defaultRestyClient) MakeRequest(ctx context.Context, body any, header any, contentType ...string) ReadyRestyReq {
	request := client.restyClient.R().SetContext(ctx)

	ct := ContentTypeJSON
	if len(contentType) > 0 {
		ct = contentType[0]
	}
	request.SetHeader("Content-Type", ct)
	request.SetHeader("Accept", ct)

	if body != nil {
		if form, ok := body.(map[string]string); ok && ct == ContentTypeForm {
			request.SetFormData(form)
		} else {
			request.SetBody(body)
		}
	}

	switch h := header.(type) {
	case map[string]string:
		request.SetHeaders(h)
	case http.Header:
		for k, values := range h {
			for _, v := range values {
				request.Header.Add(k, v)
			}
		}
	}
	return &defaultReadyRestyReq{request: request}
}

func (client *defaultRestyClient) Cookies(rawURL string) []*http.Cookie {
	u, err := urlTool.Parse(rawURL)
	if err != nil {
		return nil
	}
	jar := client.restyClient.GetClient().Jar
	if jar == nil {
		return nil
	}
	return jar.Cookies(u)
}

func (client *defaultRestyClient) setupClient(trace bool, retry int, timeout ...time.Duration) {
	restyClient := resty.New()
	restyClient.SetRetryCount(retry)
	restyClient.SetTimeout(10 * time.Second)
	if len(timeout) > 0 {
		restyClient.SetTimeout(timeout[0])
	}
	restyClient.SetRetryWaitTime(time.Second)
	restyClient.SetRetryMaxWaitTime(5 * time.Second)
	restyClient.AddRetryCondition(func(response *resty.Response, err error) bool {
		return err != nil || response.StatusCode() >= 500
	})

	defaultTransport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	defaultTransport.DialContext = (&net.Dialer{}).DialContext

	defaultTransport.MaxIdleConns = 100
	defaultTransport.MaxIdleConnsPerHost = 100

	restyClient.SetTransport(defaultTransport)

	if trace {
		restyClient.EnableTrace()
	}

	client.restyClient = restyClient
}

type defaultReadyRestyReq struct {
	request *resty.Request
}

func (req *defaultReadyRestyReq) makeUrl(url string, queryParams ...QueryParam) string {
	if len(queryParams) == 0 {
		return url
	}
	var queryString []string
	for _, query := range queryParams {
		strValue := fmt.Sprintf("%v", query.Value)
		queryString = append(queryString, fmt.Sprintf("%s=%s", urlTool.QueryEscape(query.Key), urlTool.QueryEscape(strValue)))
	}
	return fmt.Sprintf("%s?%s", url, strings.Join(queryString, "&"))
}

func (req *defaultReadyRestyReq) Get(url string, queryParams ...QueryParam) (*resty.Response, error) {
	return req.request.Get(req.makeUrl(url, queryParams...))
}
func (req *defaultReadyRestyReq) Post(url string, queryParams ...QueryParam) (*resty.Response, error) {
	return req.request.Post(req.makeUrl(url, queryParams...))
}
