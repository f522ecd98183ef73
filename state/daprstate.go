package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultStateStoreName = "statestore"
	defaultDaprGRPCPort   = "50001"
	checkpointKeyPrefix   = "crawl-state-"
)

// daprStateClient is the subset of the Dapr client used for checkpoints.
type daprStateClient interface {
	SaveState(ctx context.Context, storeName, key string, data []byte, meta map[string]string, so ...daprc.StateOption) error
	GetState(ctx context.Context, storeName, key string, meta map[string]string) (*daprc.StateItem, error)
	Close()
}

// DaprCheckpointStore keeps the checkpoint as a JSON document in a Dapr
// state store, keyed by crawl id.
type DaprCheckpointStore struct {
	client         daprStateClient
	stateStoreName string
	key            string
}

func GetEnvValue(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// NewDaprCheckpointStore dials the local Dapr sidecar over gRPC and returns
// a store for config.CrawlID.
func NewDaprCheckpointStore(config Config) (*DaprCheckpointStore, error) {
	if config.CrawlID == "" {
		return nil, fmt.Errorf("dapr checkpoint store requires a crawl id")
	}

	// Checkpoints for large crawls can be big, so raise the message limits.
	maxSizeInBytes := 64 * 1024 * 1024
	callOpts := []grpc.CallOption{
		grpc.MaxCallRecvMsgSize(maxSizeInBytes),
		grpc.MaxCallSendMsgSize(maxSizeInBytes),
	}

	daprPort := GetEnvValue("DAPR_GRPC_PORT", defaultDaprGRPCPort)
	stateStoreName := defaultStateStoreName
	if config.DaprConfig != nil {
		if config.DaprConfig.GRPCPort != "" {
			daprPort = config.DaprConfig.GRPCPort
		}
		if config.DaprConfig.StateStoreName != "" {
			stateStoreName = config.DaprConfig.StateStoreName
		}
	}

	conn, err := grpc.NewClient(
		net.JoinHostPort("127.0.0.1", daprPort),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	client := daprc.NewClientWithConnection(conn)
	log.Info().
		Str("state_store", stateStoreName).
		Str("port", daprPort).
		Str("crawl_id", config.CrawlID).
		Msg("Using Dapr checkpoint store")

	return newDaprCheckpointStore(client, stateStoreName, config.CrawlID), nil
}

func newDaprCheckpointStore(client daprStateClient, stateStoreName, crawlID string) *DaprCheckpointStore {
	return &DaprCheckpointStore{
		client:         client,
		stateStoreName: stateStoreName,
		key:            checkpointKeyPrefix + crawlID,
	}
}

// Save stores st under the crawl's key. State store writes replace the whole
// value, so readers see either the old or the new checkpoint.
func (s *DaprCheckpointStore) Save(ctx context.Context, st CrawlState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := s.client.SaveState(ctx, s.stateStoreName, s.key, data, nil); err != nil {
		return fmt.Errorf("failed to save checkpoint to %s: %w", s.stateStoreName, err)
	}
	log.Debug().Str("key", s.key).Int("frontier", len(st.Frontier)).Msg("Checkpoint saved to Dapr")
	return nil
}

// Load fetches the checkpoint for the crawl.
func (s *DaprCheckpointStore) Load(ctx context.Context) (CrawlState, error) {
	item, err := s.client.GetState(ctx, s.stateStoreName, s.key, nil)
	if err != nil {
		return CrawlState{}, fmt.Errorf("failed to load checkpoint from %s: %w", s.stateStoreName, err)
	}
	if item == nil || len(item.Value) == 0 {
		return CrawlState{}, ErrCheckpointNotFound
	}

	var st CrawlState
	if err := json.Unmarshal(item.Value, &st); err != nil {
		return CrawlState{}, fmt.Errorf("failed to parse checkpoint %s: %w", s.key, err)
	}
	return st, nil
}

func (s *DaprCheckpointStore) Close() error {
	s.client.Close()
	return nil
}
