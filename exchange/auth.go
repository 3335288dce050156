package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/samber/lo"

	"qxtrader/model"
	"qxtrader/session"
	"qxtrader/transport"
	"qxtrader/utils/log"
	"qxtrader/utils/resty"
)

const (
	signInPath   = "/%s/sign-in/modal/"
	tradePath    = "/%s/demo-trade"
	settingsPath = "/api/v1/cabinets/digest"
)

// 거래 페이지에 박혀 있는 window.settings = {...};
var settingsPattern = regexp.MustCompile(`window\.settings\s*=\s*(\{.*?\});`)

// authenticator HTTP 로그인과 세션 파일을 담당한다.
type authenticator struct {
	http    resty.RestyClient
	store   *session.Store
	baseURL string

	lang      string
	email     string
	password  string
	userAgent string

	mu    sync.RWMutex
	creds session.Credentials
}

func newAuthenticator(client resty.RestyClient, store *session.Store, baseURL string, cfg Config) *authenticator {
	return &authenticator{
		http:      client,
		store:     store,
		baseURL:   strings.TrimRight(baseURL, "/"),
		lang:      cfg.Lang,
		email:     cfg.Email,
		password:  cfg.Password,
		userAgent: cfg.UserAgent,
	}
}

func (a *authenticator) url(path string) string {
	return a.baseURL + path
}

func (a *authenticator) current() session.Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.creds
}

func (a *authenticator) set(creds session.Credentials) {
	a.mu.Lock()
	a.creds = creds
	a.mu.Unlock()
}

// Authenticate 저장된 토큰이 있으면 그대로 쓰고, 없거나 forceFresh 면 새로 로그인한다.
func (a *authenticator) Authenticate(ctx context.Context, forceFresh bool) (transport.Session, error) {
	creds, err := a.store.Load(a.userAgent)
	if err != nil {
		log.Warnf("[QUOTEX] load session %s: %v", a.store.Path(), err)
		creds = session.Credentials{UserAgent: a.userAgent}
	}
	if creds.UserAgent == "" {
		creds.UserAgent = a.userAgent
	}

	fresh := false
	if forceFresh || creds.Token == "" {
		creds, err = a.login(ctx)
		if err != nil {
			return transport.Session{Fresh: true}, err
		}
		if err := a.store.Save(creds); err != nil {
			log.Warnf("[QUOTEX] save session: %v", err)
		}
		fresh = true
	}
	a.set(creds)
	return transport.Session{Header: a.header(creds), Fresh: fresh}, nil
}

// Invalidate 세션 파일을 지운다. 다음 연결은 새로 로그인한다.
func (a *authenticator) Invalidate() error {
	a.set(session.Credentials{UserAgent: a.userAgent})
	log.Warnf("[QUOTEX] session %s invalidated", a.store.Path())
	return a.store.Delete()
}

func (a *authenticator) header(creds session.Credentials) http.Header {
	h := http.Header{}
	h.Set("User-Agent", creds.UserAgent)
	h.Set("Origin", a.baseURL)
	if creds.Cookies != "" {
		h.Set("Cookie", creds.Cookies)
	}
	return h
}

func (a *authenticator) browserHeader() map[string]string {
	return map[string]string{
		"User-Agent": a.userAgent,
		"Referer":    a.url(fmt.Sprintf(signInPath, a.lang)),
		"Origin":     a.baseURL,
	}
}

func (a *authenticator) login(ctx context.Context) (session.Credentials, error) {
	if a.email == "" || a.password == "" {
		return session.Credentials{}, fmt.Errorf("%w: %w", model.ErrAuth, model.ErrMissingCredentials)
	}
	log.Infof("[QUOTEX] signing in as %s", a.email)

	form := map[string]string{
		"email":    a.email,
		"password": a.password,
		"remember": "1",
	}
	resp, err := a.http.
		MakeRequest(ctx, form, a.browserHeader(), resty.ContentTypeForm).
		Post(a.url(fmt.Sprintf(signInPath, a.lang)))
	if err != nil {
		return session.Credentials{}, fmt.Errorf("%w: sign-in: %v", model.ErrTransport, err)
	}
	if err := classifyStatus("sign-in", resp.StatusCode()); err != nil {
		return session.Credentials{}, err
	}

	token := extractToken(resp.Body())
	if token == "" {
		// 로그인 응답에 없으면 거래 페이지에서 찾는다
		resp, err = a.http.
			MakeRequest(ctx, nil, a.browserHeader(), resty.ContentTypeHTML).
			Get(a.url(fmt.Sprintf(tradePath, a.lang)))
		if err != nil {
			return session.Credentials{}, fmt.Errorf("%w: trade page: %v", model.ErrTransport, err)
		}
		if err := classifyStatus("trade page", resp.StatusCode()); err != nil {
			return session.Credentials{}, err
		}
		token = extractToken(resp.Body())
	}
	if token == "" {
		return session.Credentials{}, fmt.Errorf("%w: no session token after sign-in", model.ErrAuth)
	}

	return session.Credentials{
		Cookies:   cookieHeader(a.http.Cookies(a.baseURL)),
		Token:     token,
		UserAgent: a.userAgent,
	}, nil
}

// Profile 계정 설정 조회
func (a *authenticator) Profile(ctx context.Context) (model.Profile, error) {
	creds := a.current()
	header := map[string]string{
		"User-Agent": creds.UserAgent,
		"Referer":    a.url(fmt.Sprintf(tradePath, a.lang)),
	}
	if creds.Cookies != "" {
		header["Cookie"] = creds.Cookies
	}
	if creds.Token != "" {
		header["Authorization"] = "Bearer " + creds.Token
	}

	resp, err := a.http.MakeRequest(ctx, nil, header).Get(a.url(settingsPath))
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: settings: %v", model.ErrTransport, err)
	}
	if err := classifyStatus("settings", resp.StatusCode()); err != nil {
		return model.Profile{}, err
	}

	var body struct {
		Data *model.Profile `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return model.Profile{}, fmt.Errorf("%w: settings: %v", model.ErrProtocol, err)
	}
	if body.Data == nil {
		return model.Profile{}, fmt.Errorf("%w: settings without data", model.ErrProtocol)
	}
	return *body.Data, nil
}

// classifyStatus 401/403/422 는 인증 실패(재시도 안 함), 나머지 실패는 트랜스포트 에러.
func classifyStatus(what string, code int) error {
	switch {
	case code >= 200 && code < 400:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s answered %d", model.ErrAuth, what, code)
	default:
		return fmt.Errorf("%w: %s answered %d", model.ErrTransport, what, code)
	}
}

func extractToken(page []byte) string {
	m := settingsPattern.FindSubmatch(page)
	if m == nil {
		return ""
	}
	var settings struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(m[1], &settings); err != nil {
		log.Debugf("[QUOTEX] window.settings not json: %v", err)
		return ""
	}
	return settings.Token
}

func cookieHeader(cookies []*http.Cookie) string {
	pairs := lo.Map(lo.UniqBy(cookies, func(c *http.Cookie) string { return c.Name }), func(c *http.Cookie, _ int) string {
		return c.Name + "=" + c.Value
	})
	return strings.Join(pairs, "; ")
}
