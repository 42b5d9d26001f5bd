package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"krest/internal/domain"
)

// sealedExportVersion はエクスポートファイルの形式のバージョン。
const sealedExportVersion = 1

// ErrUnsupportedExport は形式のバージョンが異なるエクスポートファイルを読み込もうとした場合のエラー。
var ErrUnsupportedExport = errors.New("unsupported export file version")

// KMSClient は暗号化/復号のインターフェース。aad は暗号文に結び付ける追加認証データ。
type KMSClient interface {
	Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
}

// SealedExport はエクスポートした鍵素材をKMSで暗号化したファイルの中身。
type SealedExport struct {
	Version    int       `json:"version"`
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
	Count      int       `json:"count"`
	Ciphertext []byte    `json:"ciphertext"`
}

// ExportSealer はエクスポートした鍵素材を平文のままディスクに置かないよう封緘する。
type ExportSealer struct {
	kmsClient KMSClient
	now       func() time.Time
}

// NewExportSealer は新しいExportSealerを生成する。
func NewExportSealer(kmsClient KMSClient) *ExportSealer {
	return &ExportSealer{kmsClient: kmsClient, now: time.Now}
}

// Seal は鍵素材の一覧をJSONにしてKMSで暗号化し、SealedExport のJSONを返す。
// 暗号文は runID に結び付くため、RunID を書き換えたファイルは復号できない。
func (s *ExportSealer) Seal(ctx context.Context, runID string, materials []domain.ExportedMaterial) ([]byte, error) {
	plaintext, err := json.Marshal(materials)
	if err != nil {
		return nil, fmt.Errorf("encoding exported material: %w", err)
	}

	ciphertext, err := s.kmsClient.Encrypt(ctx, plaintext, []byte(runID))
	if err != nil {
		return nil, fmt.Errorf("encrypting exported material: %w", err)
	}

	return json.MarshalIndent(SealedExport{
		Version:    sealedExportVersion,
		RunID:      runID,
		CreatedAt:  s.now().UTC(),
		Count:      len(materials),
		Ciphertext: ciphertext,
	}, "", "  ")
}

// Unseal は Seal の出力を復号して鍵素材の一覧に戻す。
func (s *ExportSealer) Unseal(ctx context.Context, data []byte) (*SealedExport, []domain.ExportedMaterial, error) {
	var sealed SealedExport
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, nil, fmt.Errorf("decoding export file: %w", err)
	}
	if sealed.Version != sealedExportVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedExport, sealed.Version)
	}

	plaintext, err := s.kmsClient.Decrypt(ctx, sealed.Ciphertext, []byte(sealed.RunID))
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting exported material: %w", err)
	}

	var materials []domain.ExportedMaterial
	if err := json.Unmarshal(plaintext, &materials); err != nil {
		return nil, nil, fmt.Errorf("decoding exported material: %w", err)
	}
	return &sealed, materials, nil
}
