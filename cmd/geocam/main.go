package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"geocam/internal/api"
	"geocam/internal/assess"
	"geocam/internal/device"
	"geocam/internal/ledger"
	"geocam/internal/logutil"
	"geocam/internal/pipeline"
	"geocam/internal/store"
)

// Default server base URL; can override with GEOCAM_SERVER env var or --server flag.
var serverBaseURL = "http://localhost:8090"

func main() {
	cmd := flag.String("cmd", "capture", "Command: capture|validate|ledger|register|status")
	codeFlag := flag.String("code", "", "Raw scanned code text (capture)")
	imageFlag := flag.String("image", "", "Path to captured image (capture)")
	geoFlag := flag.String("geo", "", "Coarse geo bucket, e.g. 48.85,2.35 (capture)")
	online := flag.Bool("online", false, "Verify against the server instead of locally")
	dataDir := flag.String("data", defaultDataDir(), "Client data directory")
	sqlite := flag.Bool("sqlite", false, "Use the SQLite store instead of per-slot files")
	sessionFlag := flag.String("session", "", "Session token (register)")
	nonceFlag := flag.String("nonce", "", "Session nonce (register)")
	dinaFlag := flag.String("dina", "", "DINA code (register/status)")
	confFlag := flag.Float64("confidence", 0, "Verification confidence (register)")
	serverFlag := flag.String("server", "", "Override server base URL (e.g. https://api.example.com)")
	flag.Parse()

	if env := os.Getenv("GEOCAM_SERVER"); env != "" {
		serverBaseURL = strings.TrimRight(env, "/")
	}
	if *serverFlag != "" {
		serverBaseURL = strings.TrimRight(*serverFlag, "/")
	}

	kv, closeKV, err := openStore(*dataDir, *sqlite)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer closeKV()

	logger, err := logutil.NewFile(filepath.Join(*dataDir, "geocam.log"))
	if err != nil {
		logger = logutil.New(os.Stderr)
	}
	defer logger.Close()

	ctx := context.Background()
	switch *cmd {
	case "capture":
		err = captureFlow(ctx, kv, logger, *codeFlag, *imageFlag, *geoFlag, *online)
	case "validate":
		err = validateFlow(kv)
	case "ledger":
		err = ledgerFlow(kv)
	case "register":
		err = registerFlow(ctx, kv, logger, *sessionFlag, *dinaFlag, *nonceFlag, *confFlag)
	case "status":
		err = statusFlow(ctx, *dinaFlag)
	default:
		err = fmt.Errorf("unknown command %q", *cmd)
	}
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".geocam"
	}
	return filepath.Join(home, ".geocam")
}

func openStore(dir string, sqlite bool) (store.KV, func(), error) {
	if sqlite {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, nil, err
		}
		s, err := store.NewSQLiteStore(filepath.Join(dir, "geocam.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := store.NewFileStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}

func newPipeline(kv store.KV, logger *logutil.Logger, online bool) (*pipeline.Pipeline, error) {
	keys, err := device.NewSealedManager(kv, deviceFingerprint())
	if err != nil {
		return nil, err
	}
	cfg := pipeline.DefaultConfig()
	cfg.UseServerVerification = online

	deps := pipeline.Deps{
		Store:    kv,
		Keys:     keys,
		Ledger:   ledger.New(kv),
		Assessor: assess.StubAssessor{},
		Info:     device.NewHostInfoProvider(),
		Log:      logger,
	}
	if online {
		deps.API = api.NewClient(serverBaseURL+"/api", api.DefaultTimeout)
	}
	return pipeline.New(cfg, deps), nil
}

// deviceFingerprint hashes the stable host identity into the seal-key input.
func deviceFingerprint() string {
	info, err := device.NewHostInfoProvider().Info()
	if err != nil {
		info = device.FallbackInfo()
	}
	sum := sha256.Sum256([]byte(info.Platform + ":" + info.Model + ":" + info.NativeID))
	return hex.EncodeToString(sum[:])
}

func captureFlow(ctx context.Context, kv store.KV, logger *logutil.Logger, code, imagePath, geo string, online bool) error {
	imageRef := assess.NoImageSentinel
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		imageRef = base64.StdEncoding.EncodeToString(data)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	p, err := newPipeline(kv, logger, online)
	if err != nil {
		return err
	}
	out := p.Run(ctx, pipeline.Input{
		CodeRaw:           code,
		ImageRef:          imageRef,
		GeoBucket:         geo,
		DeviceFingerprint: deviceFingerprint(),
	})

	fmt.Println("Code status:  ", out.CodeStatus)
	fmt.Println("Verify status:", out.VerifyStatus)
	if out.Confidence != nil {
		fmt.Printf("Confidence:    %.3f\n", *out.Confidence)
	}
	if out.RecordID != "" {
		fmt.Println("Record:       ", out.RecordID)
		fmt.Println("Pack hash:    ", out.PackHash)
	}
	if out.ErrorCode != "" {
		return fmt.Errorf("capture failed: %s", out.ErrorCode)
	}
	return nil
}

func validateFlow(kv store.KV) error {
	res, err := ledger.New(kv).ValidateChain()
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("chain broken at record %s", res.BrokenAt)
	}
	n, err := ledger.New(kv).Length()
	if err != nil {
		return err
	}
	fmt.Printf("Chain OK (%d records)\n", n)
	return nil
}

func ledgerFlow(kv store.KV) error {
	records, err := ledger.New(kv).GetAll()
	if err != nil {
		return err
	}
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
	}
	return nil
}

func registerFlow(ctx context.Context, kv store.KV, logger *logutil.Logger, session, dina, nonce string, confidence float64) error {
	if session == "" || dina == "" || nonce == "" {
		return fmt.Errorf("--session, --dina and --nonce required")
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	p, err := newPipeline(kv, logger, true)
	if err != nil {
		return err
	}
	out := p.Register(ctx, session, dina, nonce, confidence)
	fmt.Println("Status:", out.Status)
	if out.ActivatedAt != "" {
		fmt.Println("Activated at:", out.ActivatedAt)
	}
	if !out.Success {
		return fmt.Errorf("register failed: %s", out.ErrorCode)
	}
	return nil
}

func statusFlow(ctx context.Context, dina string) error {
	if dina == "" {
		return fmt.Errorf("--dina required")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := api.NewClient(serverBaseURL+"/api", api.DefaultTimeout).Status(ctx, dina)
	if err != nil {
		return err
	}
	fmt.Println("Status:", resp.Status)
	if resp.SeriesName != "" {
		fmt.Println("Series:", resp.SeriesName)
	}
	if resp.ActivatedAt != "" {
		fmt.Println("Activated at:", resp.ActivatedAt)
	}
	return nil
}
