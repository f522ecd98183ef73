package telegramhelper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zelenin/go-tdlib/client"
)

// TDLibClient is the subset of the TDLib client used by this package. It
// lets the fetcher be exercised against a mock in tests.
type TDLibClient interface {
	SearchPublicChat(req *client.SearchPublicChatRequest) (*client.Chat, error)
	GetChatHistory(req *client.GetChatHistoryRequest) (*client.Messages, error)
	GetSupergroupFullInfo(req *client.GetSupergroupFullInfoRequest) (*client.SupergroupFullInfo, error)
	GetBasicGroupFullInfo(req *client.GetBasicGroupFullInfoRequest) (*client.BasicGroupFullInfo, error)
	GetMe() (*client.User, error)
	Close() (*client.Ok, error)
}

// ErrMissingCredentials is returned when no API id / hash could be found in
// the credentials file or the configuration.
var ErrMissingCredentials = errors.New("missing Telegram credentials: set TELEGRAM_API_ID, TELEGRAM_API_HASH and TELEGRAM_PHONE")

// Credentials stores Telegram API authentication details.
type Credentials struct {
	APIId       string `json:"api_id"`       // Telegram API ID obtained from developer portal
	APIHash     string `json:"api_hash"`     // Telegram API hash obtained from developer portal
	PhoneNumber string `json:"phone_number"` // User's phone number in international format
	PhoneCode   string `json:"phone_code"`   // One-time code received via SMS or Telegram
}

// Validate checks that the fields needed to start a TDLib session are set.
func (c Credentials) Validate() error {
	if c.APIId == "" || c.APIHash == "" || c.PhoneNumber == "" {
		return ErrMissingCredentials
	}
	if _, err := strconv.ParseInt(c.APIId, 10, 32); err != nil {
		return fmt.Errorf("invalid Telegram API id %q: %w", c.APIId, err)
	}
	return nil
}

// ConnectConfig configures a TDLib session.
type ConnectConfig struct {
	// StorageRoot holds the TDLib database and files directories.
	StorageRoot string
	// DatabaseURL optionally points at a session archive (http(s) URL or
	// local path) produced by GenerateSessionArchive.
	DatabaseURL string
	// Credentials are used when no credentials file is present.
	Credentials Credentials
	// Verbosity is the TDLib log verbosity.
	Verbosity int32
	// Timeout bounds the wait for authorization.
	Timeout time.Duration
}

// readCredentials loads credentials from .tdlib/credentials.json under dir.
func readCredentials(dir string) (*Credentials, error) {
	credsPath := filepath.Join(dir, ".tdlib", "credentials.json")

	data, err := os.ReadFile(credsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
	}

	return &creds, nil
}

// ResolveCredentials prefers a credentials file in the working directory or
// the storage root and falls back to the configured values.
func ResolveCredentials(cfg ConnectConfig) (Credentials, error) {
	for _, dir := range []string{".", cfg.StorageRoot} {
		if dir == "" {
			continue
		}
		creds, err := readCredentials(dir)
		if err != nil {
			continue
		}
		log.Info().Str("dir", dir).Msg("Using API credentials from stored file")
		return *creds, creds.Validate()
	}
	log.Info().Msg("Using API credentials from configuration")
	return cfg.Credentials, cfg.Credentials.Validate()
}

// SetupAuth exports the phone number and code for the CLI interactor.
// Empty values are left untouched.
func SetupAuth(phoneNumber, phoneCode string) {
	if phoneNumber != "" {
		os.Setenv("TG_PHONE_NUMBER", phoneNumber)
		log.Debug().
			Str("phone_number_masked", maskPhoneNumber(phoneNumber)).
			Msg("Set TG_PHONE_NUMBER environment variable for authentication")
	}
	if phoneCode != "" {
		os.Setenv("TG_PHONE_CODE", phoneCode)
		log.Debug().Msg("Set TG_PHONE_CODE environment variable for authentication")
	}
}

// maskPhoneNumber hides most digits of a phone number for security in logs
func maskPhoneNumber(phoneNumber string) string {
	if len(phoneNumber) <= 4 {
		return "***"
	}

	visiblePrefix := 3
	if len(phoneNumber) > 10 {
		visiblePrefix = 4
	}

	masked := phoneNumber[:visiblePrefix]
	for i := visiblePrefix; i < len(phoneNumber)-2; i++ {
		masked += "*"
	}
	masked += phoneNumber[len(phoneNumber)-2:]

	return masked
}

// sessionDirs returns the TDLib database and files directories. A session
// archive gets its own subfolder so different archives never share state.
func sessionDirs(cfg ConnectConfig) (root, dbDir, filesDir string) {
	root = filepath.Join(cfg.StorageRoot, "state")
	if cfg.DatabaseURL != "" {
		h := fnv.New32a()
		h.Write([]byte(cfg.DatabaseURL))
		root = filepath.Join(root, fmt.Sprintf("conn_%d", h.Sum32()))
	}
	dbDir = filepath.Join(root, ".tdlib", "database")
	filesDir = filepath.Join(root, ".tdlib", "files")
	return root, dbDir, filesDir
}

// Connect starts an authorized TDLib session. When cfg.DatabaseURL is set the
// archive is unpacked first so the session starts pre-authorized; a failed
// download falls back to a fresh database and interactive login.
func Connect(ctx context.Context, cfg ConnectConfig) (TDLibClient, error) {
	creds, err := ResolveCredentials(cfg)
	if err != nil {
		return nil, err
	}
	apiID, _ := strconv.ParseInt(creds.APIId, 10, 32)

	root, dbDir, filesDir := sessionDirs(cfg)
	if cfg.DatabaseURL != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory %s: %w", root, err)
		}
		if err := FetchSessionArchive(ctx, cfg.DatabaseURL, root); err != nil {
			log.Warn().Err(err).Msg("Failed to load pre-seeded TDLib database, proceeding with fresh database")
		} else {
			log.Info().Str("dir", root).Msg("Loaded pre-seeded TDLib database")
		}
	}
	for _, dir := range []string{dbDir, filesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create TDLib directory %s: %w", dir, err)
		}
	}
	log.Info().Str("dir", dbDir).Msg("Using TDLib database directory")

	authorizer := client.ClientAuthorizer()
	authorizer.TdlibParameters <- &client.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   dbDir,
		FilesDirectory:      filesDir,
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
		UseSecretChats:      false,
		ApiId:               int32(apiID),
		ApiHash:             creds.APIHash,
		SystemLanguageCode:  "en",
		DeviceModel:         "Server",
		SystemVersion:       "1.0.0",
		ApplicationVersion:  "1.0.0",
	}

	SetupAuth(creds.PhoneNumber, creds.PhoneCode)
	go client.CliInteractor(authorizer)

	_, err = client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{NewVerbosityLevel: cfg.Verbosity})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to set TDLib verbosity")
	}

	return awaitClient(ctx, cfg.Timeout, func() (TDLibClient, error) {
		tdlibClient, err := client.NewClient(authorizer)
		if err != nil {
			return nil, err
		}
		return tdlibClient, nil
	})
}

// awaitClient runs start in the background and waits for it until ctx is
// done or timeout passes. A client that arrives after Connect gave up is
// closed.
func awaitClient(ctx context.Context, timeout time.Duration, start func() (TDLibClient, error)) (TDLibClient, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	type outcome struct {
		client TDLibClient
		err    error
	}
	ready := make(chan outcome, 1)
	go func() {
		tdlibClient, err := start()
		ready <- outcome{client: tdlibClient, err: err}
	}()

	abandon := func() {
		go func() {
			if o := <-ready; o.err == nil {
				log.Warn().Msg("Closing TDLib client that finished initializing after Connect gave up")
				CloseClient(o.client)
			}
		}()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-ready:
		if o.err != nil {
			return nil, fmt.Errorf("failed to initialize TDLib client: %w", o.err)
		}
		log.Info().Msg("Client initialized successfully")
		return o.client, nil
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("timeout initializing TDLib client after %s", timeout)
	}
}

// GetMe retrieves the authenticated Telegram user
func GetMe(tdlibClient TDLibClient) (*client.User, error) {
	user, err := tdlibClient.GetMe()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve authenticated user: %w", err)
	}
	log.Info().Msgf("Logged in as: %s %s", user.FirstName, user.LastName)
	return user, nil
}

// CloseClient closes the session, logging rather than returning failures.
func CloseClient(tdlibClient TDLibClient) {
	if tdlibClient == nil {
		return
	}
	if _, err := tdlibClient.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing tdlibClient")
		return
	}
	log.Info().Msg("tdlibClient closed successfully")
}

// GenerateSessionArchive logs in interactively and packs the authorized
// TDLib database into a gzipped tarball at out. Pointing DatabaseURL at the
// archive lets later runs skip the login.
func GenerateSessionArchive(ctx context.Context, cfg ConnectConfig, out string) error {
	cfg.DatabaseURL = ""
	tdclient, err := Connect(ctx, cfg)
	if err != nil {
		return err
	}

	user, err := GetMe(tdclient)
	if err != nil {
		CloseClient(tdclient)
		return err
	}
	log.Info().Msgf("Authenticated as: %s %s", user.FirstName, user.LastName)

	// TDLib flushes its database on close.
	CloseClient(tdclient)

	root, _, _ := sessionDirs(cfg)
	if err := PackSessionArchive(root, out); err != nil {
		return fmt.Errorf("failed to write session archive: %w", err)
	}
	log.Info().Str("file", out).Msg("Session archive written")
	return nil
}
