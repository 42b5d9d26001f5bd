package infra

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ErrKMSIntegrity はKMSとの間でデータが破損した場合のエラー。
var ErrKMSIntegrity = errors.New("kms request corrupted in transit")

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func crc32c(data []byte) *wrapperspb.Int64Value {
	return wrapperspb.Int64(int64(crc32.Checksum(data, crc32cTable)))
}

// KMSClient はエクスポートファイルを封緘するCloud KMSクライアント。
type KMSClient struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSClient は keyName（projects/.../cryptoKeys/...）で暗号化する KMSClient を生成する。
func NewKMSClient(ctx context.Context, keyName string) (*KMSClient, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS_KEY_NAME is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSClient{
		client:  client,
		keyName: keyName,
	}, nil
}

// Encrypt は平文を aad に結び付けて暗号化する。復号には同じ aad が要る。
func (c *KMSClient) Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	resp, err := c.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                              c.keyName,
		Plaintext:                         plaintext,
		PlaintextCrc32C:                   crc32c(plaintext),
		AdditionalAuthenticatedData:       aad,
		AdditionalAuthenticatedDataCrc32C: crc32c(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting with %s: %w", c.keyName, err)
	}
	if !resp.VerifiedPlaintextCrc32C || !resp.VerifiedAdditionalAuthenticatedDataCrc32C {
		return nil, fmt.Errorf("%w: encrypt request", ErrKMSIntegrity)
	}
	if resp.CiphertextCrc32C.GetValue() != crc32c(resp.Ciphertext).GetValue() {
		return nil, fmt.Errorf("%w: encrypt response", ErrKMSIntegrity)
	}
	return resp.Ciphertext, nil
}

// Decrypt は Encrypt の出力を復号する。
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	resp, err := c.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                              c.keyName,
		Ciphertext:                        ciphertext,
		CiphertextCrc32C:                  crc32c(ciphertext),
		AdditionalAuthenticatedData:       aad,
		AdditionalAuthenticatedDataCrc32C: crc32c(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("decrypting with %s: %w", c.keyName, err)
	}
	if resp.PlaintextCrc32C.GetValue() != crc32c(resp.Plaintext).GetValue() {
		return nil, fmt.Errorf("%w: decrypt response", ErrKMSIntegrity)
	}
	return resp.Plaintext, nil
}

// Close はKMSクライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}
