// Package exitcode names the stable process exit codes startup failures
// return, matching the reserved range in spec §6. Supervisors key off
// these numbers, so they must stay fixed; grounded on the return-site
// sequence in original_source/fuse/sfs.c's main().
package exitcode

const (
	// OK is the clean-shutdown exit code.
	OK = 0

	// RootNotDirectory means the configured root is not a directory.
	// cmd/sfs also returns it when --sfs-uid and --sfs-gid are not given
	// together, when the passthrough root cannot be built, and when the
	// mount fails.
	RootNotDirectory = 1

	// AccessMutexInit covers failure to initialize the privilege access
	// lock. original_source/fuse/util.c's sfs_begin_access guards this
	// with pthread_mutex_init, which can fail; sync.Mutex's zero value
	// is always ready, so this code is reserved and unreachable in this
	// port rather than mapped onto an unrelated failure.
	AccessMutexInit = 2

	// ConfigMutexInit covers failure to initialize the config lock, for
	// the same pthread_mutex_init reason as AccessMutexInit: reserved
	// and unreachable here, since sync.RWMutex never fails to init.
	ConfigMutexInit = 3

	// ConfigPathResolve covers failure to resolve the config file's
	// real path (symlink resolution) before it is loaded.
	ConfigPathResolve = 4

	// ConfigLoad means the initial config load failed validation.
	ConfigLoad = 5

	// BatchMutexInit covers failure to initialize the batch lock. The
	// batch lock is a sync.Mutex that cannot fail to init; cmd/sfs
	// returns this code when the pid file lock cannot be acquired.
	BatchMutexInit = 7

	// StagingDirOpen means the staging directory could not be read for
	// recovery, or could not be fsynced after it (recovery.ErrStagingDirOpen).
	StagingDirOpen = 8

	// RecoveryPathBuild means a staging entry name could not be matched
	// against the batch-file pattern (recovery.ErrPathBuild).
	RecoveryPathBuild = 9

	// RecoveryOutboxPathBuild means the outbox directory could not be
	// fsynced after promotion (recovery.ErrOutboxPathBuild).
	RecoveryOutboxPathBuild = 10

	// RecoveryRename means a staging file could not be promoted to the outbox.
	RecoveryRename = 11
)
