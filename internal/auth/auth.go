// Package auth はアクセストークンによる認証を提供する。
// トークンは平文では保存せず、bcryptハッシュのみをDBに保持する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/bilitrack/internal/repository"
)

// tokenBytes は生成するトークンのバイト長。hex表現で32文字になる。
const tokenBytes = 16

// Service はアクセストークンの検証と再発行を行う。
type Service struct {
	tokenRepo repository.TokenRepository
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(tokenRepo repository.TokenRepository, logger *slog.Logger) *Service {
	return &Service{
		tokenRepo: tokenRepo,
		logger:    logger,
	}
}

// generateToken は暗号学的乱数から新しいトークンを生成する。
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("トークンの生成に失敗しました: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// EnsureToken はトークンが未設定の場合に初期トークンを発行する。
// 発行した平文トークンはこのとき1回だけログに出力される。
// すでに設定済みの場合は何もしない。
func (s *Service) EnsureToken(ctx context.Context) error {
	hash, err := s.tokenRepo.GetHash(ctx)
	if err != nil {
		return err
	}
	if hash != "" {
		return nil
	}

	token, err := generateToken()
	if err != nil {
		return err
	}

	if err := s.store(ctx, token); err != nil {
		return err
	}

	s.logger.Info("初期アクセストークンを発行しました。このトークンは再表示されません",
		slog.String("token", token),
	)
	return nil
}

// Verify はトークンが有効かどうかを返す。
func (s *Service) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	hash, err := s.tokenRepo.GetHash(ctx)
	if err != nil {
		return false, err
	}
	if hash == "" {
		return false, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return false, nil
	}
	return true, nil
}

// Reset はトークンを再発行し、新しい平文トークンを返す。
// 旧トークンはこの時点で無効になる。
func (s *Service) Reset(ctx context.Context) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	if err := s.store(ctx, token); err != nil {
		return "", err
	}

	s.logger.Info("アクセストークンを再発行しました")
	return token, nil
}

func (s *Service) store(ctx context.Context, token string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("トークンのハッシュ化に失敗しました: %w", err)
	}
	return s.tokenRepo.SetHash(ctx, string(hash))
}
