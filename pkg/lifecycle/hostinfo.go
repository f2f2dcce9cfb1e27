package lifecycle

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Minimum free host resources required to admit a new instance. A full
// stack idles around 1 GiB of memory; the database and storage volumes
// need room to grow.
const (
	minFreeMemoryMB = 1024
	minFreeDiskMB   = 2048
)

// HostResources is the free-capacity snapshot taken before a create.
type HostResources struct {
	FreeMemoryMB int64 `json:"free_memory_mb"`
	FreeDiskMB   int64 `json:"free_disk_mb"`
}

// probeHostResources reads available memory from /proc/meminfo and
// free disk space under dataRoot. Unreadable values come back as -1
// and are treated as unknown, not as exhaustion.
func probeHostResources(dataRoot string) HostResources {
	return HostResources{
		FreeMemoryMB: availableMemoryMB(),
		FreeDiskMB:   freeDiskMB(dataRoot),
	}
}

func availableMemoryMB() int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return -1
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return -1
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return -1
		}
		return kb / 1024
	}
	return -1
}

func freeDiskMB(path string) int64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return -1
	}
	return int64(st.Bavail) * st.Bsize / (1024 * 1024)
}
