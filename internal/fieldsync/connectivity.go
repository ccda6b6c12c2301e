package fieldsync

// ConnectivityMonitor is an injected source of network-state changes.
type ConnectivityMonitor interface {
	// Online reports the last known state.
	Online() bool

	// Changes delivers state transitions; true means the device came online.
	Changes() <-chan bool
}
