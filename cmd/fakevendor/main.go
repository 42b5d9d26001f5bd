// Package main は移行元・移行先ベンダーAPIのインメモリ実装をローカルで起動する開発用サーバ。
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"krest/config"
	"krest/internal/domain"
	"krest/internal/fakevendor"
	"krest/internal/infra"
)

func main() {
	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()

	srcAddr := flag.String("src", "127.0.0.1:9443", "Source API listen address")
	dstAddr := flag.String("dst", "127.0.0.1:8443", "Destination API listen address")
	seed := flag.Int("seed", 3, "Number of demo keys to create in the source")
	flag.Parse()

	cfg := config.LoadAmbient("", "")
	infra.SetupLogger(cfg, os.Stderr)

	src := fakevendor.NewSource(getEnv("FAKE_SRC_USER", "SKLMAdmin"), getEnv("FAKE_SRC_PASS", "changeit"))
	dst := fakevendor.NewDestination(getEnv("FAKE_DST_USER", "admin"), getEnv("FAKE_DST_PASS", "changeit"))
	seedSource(src, *seed)

	srcServer, err := startTLS(*srcAddr, src.Handler())
	if err != nil {
		slog.Error("failed to start source server", "error", err)
		os.Exit(1)
	}
	defer srcServer.Close()

	dstServer, err := startTLS(*dstAddr, dst.Handler())
	if err != nil {
		slog.Error("failed to start destination server", "error", err)
		os.Exit(1)
	}
	defer dstServer.Close()

	slog.Info("fake vendors started (self-signed TLS, use --insecure)",
		"source", srcServer.URL,
		"destination", dstServer.URL,
	)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	<-ctx.Done()
	slog.Info("fake vendors stopped")
}

// startTLS は自己署名証明書で addr を待ち受けるサーバを起動する。
func startTLS(addr string, h http.Handler) (*httptest.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener.Close()
	srv.Listener = ln
	srv.StartTLS()
	return srv, nil
}

func seedSource(src *fakevendor.Source, n int) {
	src.AddClient("cluster1")
	for i := range n {
		src.AddObject("cluster1", fakevendor.ManagedObject{
			Alias:                  fmt.Sprintf("[demo-key-%d]", i+1),
			KeyType:                string(domain.ObjectTypeSymmetricKey),
			KeyAlgorithm:           "AES",
			KeyLength:              "256",
			CryptographicUsageMask: "Encrypt Decrypt",
			KeyBlock:               &fakevendor.KeyBlock{KeyMaterial: fmt.Sprintf("%064x", i+1), KeyFormat: "RAW"},
			CustomAttributes:       fmt.Sprintf("[[NAME x-NETAPP-NodeId] [INDEX 0] [TYPE Text] [VALUE node%d]] [[NAME x-NETAPP-ClusterName] [INDEX 0] [TYPE Text] [VALUE cluster1]]", i%2+1),
			KeyStoreName:           "defaultKeyStore",
		})
	}
	src.AddObject("cluster1", fakevendor.ManagedObject{
		Name:                   "[NAME Name VALUE demo-secret]",
		ObjectType:             string(domain.ObjectTypeSecretData),
		CryptographicLength:    "128",
		CryptographicUsageMask: "Encrypt",
		Type:                   "PASSWORD",
		State:                  "ACTIVE",
		KeyBlock:               &fakevendor.KeyBlock{KeyMaterial: "70617373776f7264", KeyFormat: "OPAQUE"},
	})
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
