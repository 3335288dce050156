package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Credentials 는 재인증 없이 재시작하기 위한 인증 아티팩트. 다른 컴포넌트에게는 불투명한 값이다.
type Credentials struct {
	Cookies   string `json:"cookies"`
	Token     string `json:"token"`
	UserAgent string `json:"user_agent"`
}

func (c Credentials) Empty() bool {
	return c.Token == ""
}

type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load 파일이 없으면 userAgent 만 채운 빈 자격증명을 돌려준다.
func (s *Store) Load(userAgent string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{UserAgent: userAgent}, nil
	}
	if err != nil {
		return Credentials{UserAgent: userAgent}, fmt.Errorf("read session file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{UserAgent: userAgent}, fmt.Errorf("decode session file: %w", err)
	}
	if creds.UserAgent == "" {
		creds.UserAgent = userAgent
	}
	return creds, nil
}

// Save 임시 파일에 쓴 뒤 rename 해서 반쯤 쓰인 파일이 남지 않게 한다.
func (s *Store) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
