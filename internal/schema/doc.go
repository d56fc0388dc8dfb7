// Package schema keeps the storage schema in place for the writer pool.
//
// At startup InitializeSchema makes sure the measurement template and the
// root database exist. While running, each writer owns a Registry and calls
// ValidateDevices before writing a batch: device paths it has not seen yet
// are bound to the template in chunks of 100, and remembered so the common
// case after warm-up makes no remote calls.
//
// The validated-device cache is per Registry. Two workers seeing the same
// new device both bind it; the second bind answers "already exists", which
// counts as success.
package schema
