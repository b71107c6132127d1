package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CredentialsPath 返回 <dir>/<service>_credentials.json。
func CredentialsPath(dir, service string) string {
	return filepath.Join(dir, service+"_credentials.json")
}

// ReadCredentials 读取凭据文件原文；缺失或为空返回 ErrCredentials。
func ReadCredentials(dir, service string) ([]byte, error) {
	p := CredentialsPath(dir, service)
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCredentials, p, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCredentials, p)
	}
	return b, nil
}

// LoadCredentials 严格解码凭据文件到 v（拒绝未知字段）。
func LoadCredentials(dir, service string, v any) error {
	b, err := ReadCredentials(dir, service)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCredentials, CredentialsPath(dir, service), err)
	}
	return nil
}
