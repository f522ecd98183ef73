package state

// DefaultCheckpointStoreFactory is the default implementation of CheckpointStoreFactory
type DefaultCheckpointStoreFactory struct{}

// Create returns a Dapr-backed store when Dapr is configured and a local
// file store otherwise.
func (f *DefaultCheckpointStoreFactory) Create(config Config) (CheckpointStore, error) {
	if config.DaprConfig != nil {
		return NewDaprCheckpointStore(config)
	}
	return NewLocalCheckpointStore(config), nil
}
