package storage

import (
	"os"
)

// sqliteSidecars are the files SQLite keeps next to the database in WAL mode.
var sqliteSidecars = []string{"", "-wal", "-shm"}

// DiskUsageBytes returns the bytes used by the database file and its WAL sidecars.
// Missing files contribute 0.
func (s *SQLiteStorage) DiskUsageBytes() (int64, error) {
	return fileSizes(s.path, sqliteSidecars...)
}

func fileSizes(base string, suffixes ...string) (int64, error) {
	var total int64
	for _, suffix := range suffixes {
		info, err := os.Stat(base + suffix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
		}
	}
	return total, nil
}
