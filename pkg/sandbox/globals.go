package sandbox

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

var scriptHTTPClient = &http.Client{Timeout: 30 * time.Second}

// installGlobals binds the fixed utility namespaces available to every node
// script. Primitives, JSON, Math, Date and RegExp come with the VM itself.
func installGlobals(vm *goja.Runtime, logger Logger) {
	vm.Set("console", map[string]interface{}{
		"log": func(args ...interface{}) {
			logger.Infof("script: %s", strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
		},
		"warn": func(args ...interface{}) {
			logger.Warnf("script: %s", strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
		},
		"error": func(args ...interface{}) {
			logger.Errorf("script: %s", strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
		},
	})

	vm.Set("uuid", map[string]interface{}{
		"v4": func() string { return uuid.NewString() },
	})

	vm.Set("hash", map[string]interface{}{
		"md5": func(s string) string {
			sum := md5.Sum([]byte(s))
			return hex.EncodeToString(sum[:])
		},
		"sha1": func(s string) string {
			sum := sha1.Sum([]byte(s))
			return hex.EncodeToString(sum[:])
		},
		"sha256": func(s string) string {
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:])
		},
	})

	vm.Set("encoding", map[string]interface{}{
		"base64Encode": func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) },
		"base64Decode": func(s string) (string, error) {
			b, err := base64.StdEncoding.DecodeString(s)
			return string(b), err
		},
		"hexEncode": func(s string) string { return hex.EncodeToString([]byte(s)) },
		"hexDecode": func(s string) (string, error) {
			b, err := hex.DecodeString(s)
			return string(b), err
		},
	})

	vm.Set("path", map[string]interface{}{
		"join": func(parts ...string) string { return filepath.Join(parts...) },
		"base": filepath.Base,
		"dir":  filepath.Dir,
		"ext":  filepath.Ext,
	})

	// Process environment access; part of why this environment is not an
	// isolation boundary.
	vm.Set("env", map[string]interface{}{
		"get": os.Getenv,
	})

	vm.Set("time", map[string]interface{}{
		"now":  func() string { return time.Now().Format(time.RFC3339) },
		"unix": func() int64 { return time.Now().Unix() },
	})

	vm.Set("http", map[string]interface{}{
		"get": func(url string) (map[string]interface{}, error) {
			resp, err := scriptHTTPClient.Get(url)
			if err != nil {
				return nil, err
			}
			return readResponse(resp)
		},
		"post": func(url, contentType, body string) (map[string]interface{}, error) {
			resp, err := scriptHTTPClient.Post(url, contentType, strings.NewReader(body))
			if err != nil {
				return nil, err
			}
			return readResponse(resp)
		},
	})
}

func readResponse(resp *http.Response) (map[string]interface{}, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(body),
	}, nil
}
