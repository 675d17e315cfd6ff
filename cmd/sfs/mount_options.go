package main

import "github.com/hanwen/go-fuse/v2/fuse"

// newMountOptions translates the CLI's sfs_perms-equivalent flags into
// the underlying FUSE mount options (spec §6: "the host-runtime
// standard flags plus sfs_uid=N, sfs_gid=N, sfs_perms, and --perms").
func newMountOptions(cli *CLI) fuse.MountOptions {
	return fuse.MountOptions{
		Name:          "sfs",
		FsName:        "sfs",
		Debug:         cli.Debug,
		AllowOther:    cli.Perms,
		DisableXAttrs: false,
	}
}
