package checklog

import (
	"crypto/sha1" //nolint:gosec // index paths only need a stable fixed-length key.
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	checkerRefPrefix  = "refs/checkers/"
	checkerIndexRef   = "refs/meta/checkers"
	checkerConfigFile = "checker.yaml"
	changeRefPrefix   = "refs/changes/"
	checksRefSuffix   = "/checks"
)

// ChecksRef returns the ref holding all checks of a change of repository,
// refs/changes/<repository index path>/<NN>/<change>/checks with NN the last
// two digits of the change number. Change numbers are only unique within a
// repository, so the repository is part of the ref.
func ChecksRef(repository string, change int) string {
	return fmt.Sprintf("%s%s/%02d/%d%s", changeRefPrefix, repositoryIndexPath(repository), change%100, change, checksRefSuffix)
}

// ParseChecksRef extracts the change number from a checks ref.
func ParseChecksRef(ref string) (int, bool) {
	if !strings.HasPrefix(ref, changeRefPrefix) || !strings.HasSuffix(ref, checksRefSuffix) {
		return 0, false
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(ref, changeRefPrefix), checksRefSuffix), "/")
	if len(parts) != 4 || !isRepositoryHash(parts[0], parts[1]) {
		return 0, false
	}
	n, err := strconv.Atoi(parts[3])
	if err != nil || n <= 0 || fmt.Sprintf("%02d", n%100) != parts[2] {
		return 0, false
	}
	return n, true
}

func isRepositoryHash(shard, h string) bool {
	if len(h) != 2*sha1.Size || !strings.HasPrefix(h, shard) || len(shard) != 2 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// repositoryIndexPath is the path inside the checker index tree listing the
// checkers of one repository.
func repositoryIndexPath(repository string) string {
	sum := sha1.Sum([]byte(repository)) //nolint:gosec // see import.
	h := hex.EncodeToString(sum[:])
	return h[:2] + "/" + h
}
