package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/hookguard/internal/verify"
	"github.com/mattjoyce/hookguard/internal/webhook"
)

// signedRequest is what `hookguard sign` prints: the headers and body of a
// push as the platform would send it.
type signedRequest struct {
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	configPath := fs.String("config", "", "Read the encrypt key from this config")
	encryptKey := fs.String("encrypt-key", "", "Encrypt key (overrides --config)")
	file := fs.String("file", "-", "Plaintext event JSON; - reads stdin")
	nonce := fs.String("nonce", "", "Request nonce (default: random)")
	timestamp := fs.String("timestamp", "", "Request timestamp in epoch seconds (default: now)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	key := *encryptKey
	if key == "" {
		_, cfg, err := loadConfigForTool(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "No --encrypt-key and config failed to load: %v\n", err)
			return 1
		}
		key = cfg.Verification.EncryptKey
	}

	plaintext, err := readInput(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		return 1
	}
	if !json.Valid(plaintext) {
		fmt.Fprintln(os.Stderr, "Input is not valid JSON")
		return 1
	}

	req, err := buildSignedRequest(key, plaintext, *nonce, *timestamp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sign failed: %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func buildSignedRequest(encryptKey string, plaintext []byte, nonce, timestamp string) (signedRequest, error) {
	c, err := verify.NewCipher(encryptKey)
	if err != nil {
		return signedRequest{}, err
	}
	enc, err := c.Encrypt(plaintext)
	if err != nil {
		return signedRequest{}, err
	}
	body, err := json.Marshal(map[string]string{"encrypt": enc})
	if err != nil {
		return signedRequest{}, err
	}

	if nonce == "" {
		nonce = uuid.NewString()
	}
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	}

	return signedRequest{
		Headers: map[string]string{
			"Content-Type":          "application/json",
			webhook.HeaderTimestamp: timestamp,
			webhook.HeaderNonce:     nonce,
			webhook.HeaderSignature: verify.Sign(timestamp, nonce, encryptKey, string(body)),
		},
		Body: string(body),
	}, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
