package main

import (
	log "github.com/sirupsen/logrus"
)

// StartupScan enumerates the VFS and registers any path whose journal
// record is missing or checksum-stale, tagging the upsert "scan" (spec
// §4.9). It is informational only — no broadcast is emitted — so that
// files already present on disk at first boot are not mistaken for local
// user edits.
func (n *Node) StartupScan() error {
	files, err := n.vfs.GetAllFiles()
	if err != nil {
		return err
	}

	for _, path := range files {
		checksum, err := n.vfs.Checksum(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("[scan] checksum failed")
			continue
		}
		size, err := n.vfs.Size(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("[scan] size failed")
			continue
		}

		existing, err := n.journal.GetFile(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("[scan] journal lookup failed")
			continue
		}
		if existing != nil && existing.Checksum == checksum {
			continue
		}

		if _, err := n.journal.AddFile(path, checksum, size, n.nodeName, "scan"); err != nil {
			log.WithField("path", path).WithError(err).Warn("[scan] journal update failed")
		}
	}
	log.WithField("count", len(files)).Info("[scan] startup scan complete")
	return nil
}
