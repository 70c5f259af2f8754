// Package telegram lets allowed Telegram users open the gate by message.
package telegram

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	client "github.com/zelenin/go-tdlib/client"
)

// Config holds the TDLib account settings.
type Config struct {
	APIID              int
	APIHash            string
	DatabaseFolder     string
	SystemLanguageCode string
	DeviceModel        string
	ApplicationVersion string

	ProxyAddress  string
	ProxyPort     int
	ProxyUsername string
	ProxyPassword string
}

// ConfigureLogging sends TDLib's own log to path at the given verbosity.
func ConfigureLogging(path string, verbosity int) error {
	if _, err := client.SetLogStream(&client.SetLogStreamRequest{
		LogStream: &client.LogStreamFile{Path: path, MaxFileSize: 100 * 1024 * 1024},
	}); err != nil {
		return err
	}
	_, err := client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{NewVerbosityLevel: int32(verbosity)})
	return err
}

// CloseLogging detaches TDLib from its log file.
func CloseLogging() {
	_, _ = client.SetLogStream(&client.SetLogStreamRequest{LogStream: &client.LogStreamEmpty{}})
}

// Connect authorizes the account, prompting on the terminal on first use.
func Connect(cfg Config, log *logrus.Entry) (*client.Client, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, fmt.Errorf("telegram api settings must be set")
	}
	log.Info("starting Telegram client")

	dataDir := cfg.DatabaseFolder
	if dataDir == "" {
		dataDir = ".tdlib"
	}

	params := &client.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   filepath.Join(dataDir, "database"),
		FilesDirectory:      filepath.Join(dataDir, "files"),
		UseFileDatabase:     false,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  false,
		UseSecretChats:      false,
		ApiId:               int32(cfg.APIID),
		ApiHash:             cfg.APIHash,
		SystemLanguageCode:  cfg.SystemLanguageCode,
		DeviceModel:         cfg.DeviceModel,
		ApplicationVersion:  cfg.ApplicationVersion,
	}

	authorizer := client.ClientAuthorizer(params)
	go client.CliInteractor(authorizer)

	cl, err := client.NewClient(authorizer)
	if err != nil {
		return nil, fmt.Errorf("tdlib client: %w", err)
	}

	if cfg.ProxyAddress != "" {
		if cfg.ProxyPort == 0 {
			log.Warn("telegram proxy address set but port missing, ignoring proxy")
			return cl, nil
		}
		_, err := cl.AddProxy(&client.AddProxyRequest{
			Server: cfg.ProxyAddress,
			Port:   int32(cfg.ProxyPort),
			Enable: true,
			Type: &client.ProxyTypeSocks5{
				Username: cfg.ProxyUsername,
				Password: cfg.ProxyPassword,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("telegram.add_proxy: %w", err)
		}
	}
	log.Info("telegram client authorized")
	return cl, nil
}
