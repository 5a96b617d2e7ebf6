package backup

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

var artifactSuffixes = []string{".sql.gz", ".sql.zst", ".sql.lz4"}

// IsArtifactName reports whether name is an artifact of configName. Names that also
// carry the longer prefix of a sibling job (configName "shop", sibling "shop_eu")
// belong to the sibling.
func IsArtifactName(name, configName string, siblings ...string) bool {
	if !strings.HasPrefix(name, "backup_"+configName+"_") || ClaimedBySibling(name, siblings) {
		return false
	}
	name = strings.TrimSuffix(name, EncryptedExtension)
	for _, suffix := range artifactSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// ClaimedBySibling reports whether name starts with the artifact prefix of one of siblings.
func ClaimedBySibling(name string, siblings []string) bool {
	for _, sibling := range siblings {
		if strings.HasPrefix(name, "backup_"+sibling+"_") {
			return true
		}
	}
	return false
}

// CleanupOldBackups deletes artifacts of configName in dir older than days and
// returns their paths. days <= 0 disables cleanup. Artifacts of siblings are kept.
func CleanupOldBackups(dir, configName string, days int, now time.Time, siblings ...string) ([]string, error) {
	if days <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewStorageError("failed to list backup directory", err).WithContext("dir", dir)
	}

	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	var deleted []string
	var firstErr error
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsArtifactName(entry.Name(), configName, siblings...) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			if firstErr == nil {
				firstErr = NewStorageError("failed to delete old backup", err).WithContext("path", path)
			}
			continue
		}
		deleted = append(deleted, path)
	}
	return deleted, firstErr
}
