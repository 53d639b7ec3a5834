package topology

import "errors"

// ErrUnknownHost is returned when Update observes a host_uid the
// collaborator's hosts_config cannot resolve to a config_idx.
var ErrUnknownHost = errors.New("topology: host_uid not present in hosts config")
