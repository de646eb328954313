// Package artifact names, locates and packages backup artifacts.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/rowjay/app-backup/internal/compress"
)

type Kind string

const (
	KindApp      Kind = "app"
	KindDatabase Kind = "database"
	KindLogs     Kind = "logs"
)

// Subkinds of KindDatabase.
const (
	SubkindMongo    = "mongodb"
	SubkindPostgres = "postgres"
	SubkindMySQL    = "mysql"
	SubkindSQLite   = "sqlite"
)

const timeLayout = "20060102-150405"

// Artifact is one packaged backup unit on local disk.
type Artifact struct {
	Kind       Kind
	Subkind    string
	Name       string
	Path       string
	Compressed bool
	SizeBytes  int64
	CreatedAt  time.Time
}

// Token is the leading name component: the subkind for database dumps and
// the kind otherwise.
func (a Artifact) Token() string {
	if a.Kind == KindDatabase && a.Subkind != "" {
		return a.Subkind
	}
	return string(a.Kind)
}

// Subdir is the directory under BACKUP_DIR (and under the remote prefix)
// holding artifacts of kind.
func Subdir(kind Kind) string {
	if kind == KindDatabase {
		return "database"
	}
	return "files"
}

func Dir(root string, kind Kind) string {
	return filepath.Join(root, Subdir(kind))
}

// NewName renders {token}-{host}-{timestamp}.tar[.gz|.zst].
func NewName(token, host string, at time.Time, compression string) string {
	return fmt.Sprintf("%s-%s-%s.tar%s", token, host, at.Format(timeLayout), compress.Suffix(compression))
}

var namePattern = regexp.MustCompile(`^(app|logs|mongodb|postgres|mysql|sqlite)-(.+)-(\d{8}-\d{6})(?:-(\d+))?\.tar(\.gz|\.zst)?$`)

// Parsed is the information recoverable from an artifact file name.
type Parsed struct {
	Kind        Kind
	Subkind     string
	Host        string
	CreatedAt   time.Time
	Seq         int
	Compression string
}

func IsArtifactName(name string) bool {
	_, ok := ParseName(name)
	return ok
}

// ParseName reports whether name follows the artifact naming scheme. The
// timestamp is interpreted in local time, matching NewName.
func ParseName(name string) (Parsed, bool) {
	m := namePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return Parsed{}, false
	}
	at, err := time.ParseInLocation(timeLayout, m[3], time.Local)
	if err != nil {
		return Parsed{}, false
	}
	p := Parsed{Host: m[2], CreatedAt: at, Compression: compress.TypeNone}
	switch m[1] {
	case "app":
		p.Kind = KindApp
	case "logs":
		p.Kind = KindLogs
	default:
		p.Kind = KindDatabase
		p.Subkind = m[1]
	}
	if m[4] != "" {
		p.Seq, _ = strconv.Atoi(m[4])
	}
	switch m[5] {
	case ".gz":
		p.Compression = compress.TypeGzip
	case ".zst":
		p.Compression = compress.TypeZstd
	}
	return p, true
}

// uniquePath returns dir/name, or dir/<stem>-N<ext> for the first N that is
// free when dir/name is already taken.
func uniquePath(dir, name string, ext string) string {
	candidate := filepath.Join(dir, name)
	if !exists(candidate) {
		return candidate
	}
	stem := name[:len(name)-len(ext)]
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, n, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
