package rclone

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/rclone/rclone/backend/local"
	"github.com/rclone/rclone/backend/s3"
	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config/configmap"
	"github.com/rclone/rclone/fs/filter"
)

// InjectConfig injects the transfer configuration into the context.
func InjectConfig(ctx context.Context) context.Context {
	ctx, ci := fs.AddConfig(ctx)
	ci.LogLevel = fs.LogLevelNotice
	ci.Retries = 3
	ci.LowLevelRetries = 10
	ci.NoTraverse = true
	return ctx
}

// InjectFileList restricts transfers in ctx to the given relative paths.
func InjectFileList(ctx context.Context, files []string) (context.Context, error) {
	f, err := filter.NewFilter(nil)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if err := f.AddFile(file); err != nil {
			return nil, fmt.Errorf("failed to add %s to filter: %w", file, err)
		}
	}
	return filter.ReplaceConfig(ctx, f), nil
}

type CloudflareR2Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	AccountID string `json:"account_id"`
	Bucket    string `json:"bucket"`
	// Prefix is an optional directory inside the bucket.
	Prefix string `json:"prefix,omitempty"`
}

// LoadCredentials reads R2 credentials from a JSON file.
func LoadCredentials(path string) (*CloudflareR2Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var creds CloudflareR2Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if creds.AccessKey == "" || creds.SecretKey == "" || creds.AccountID == "" || creds.Bucket == "" {
		return nil, fmt.Errorf("config file %s: access_key, secret_key, account_id and bucket are required", path)
	}
	return &creds, nil
}

// mocks the config store of rclone
type dictConfigStore struct {
	config map[string]string
}

func (d *dictConfigStore) Get(key string) (string, bool) {
	value, ok := d.config[key]
	return value, ok
}
func (d *dictConfigStore) Set(key, value string) {
	d.config[key] = value
}

func NewR2Backend(ctx context.Context, cred *CloudflareR2Credentials) (fs.Fs, error) {
	if cred == nil {
		return nil, fmt.Errorf("Cloudflare R2 credentials are required")
	}

	conf := &dictConfigStore{
		config: make(map[string]string),
	}
	mopt := configmap.New()
	mopt.AddGetter(conf, configmap.PriorityNormal)
	mopt.AddSetter(conf)
	mopt.Set("provider", "Cloudflare")
	mopt.Set("access_key_id", cred.AccessKey)
	mopt.Set("secret_access_key", cred.SecretKey)
	mopt.Set("endpoint", fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cred.AccountID))
	mopt.Set("region", "auto")
	mopt.Set("no_check_bucket", "true")
	mopt.Set("acl", "private")
	mopt.Set("force_path_style", "true")
	mopt.Set("upload_concurrency", "4")

	root := cred.Bucket
	if cred.Prefix != "" {
		root = cred.Bucket + "/" + cred.Prefix
	}
	f, err := s3.NewFs(ctx, "r2:", root, mopt)
	if err != nil {
		return nil, err
	}
	return f, nil
}
