// Package archive reads and writes the tar container every artifact uses.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rowjay/app-backup/internal/compress"
)

// Entry maps a path on disk to its name inside the archive.
type Entry struct {
	Source string
	Name   string
}

// LayoutNames places each path under root/<basename>. Repeated basenames get
// a numeric suffix so backup and restore agree on where each path lives.
func LayoutNames(root string, paths []string) []Entry {
	seen := map[string]int{}
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		base := filepath.Base(filepath.Clean(p))
		seen[base]++
		if n := seen[base]; n > 1 {
			base = base + "-" + strconv.Itoa(n)
		}
		entries = append(entries, Entry{Source: p, Name: path.Join(root, base)})
	}
	return entries
}

// Writer appends files and directory trees to a tar stream.
type Writer struct {
	tw *tar.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{tw: tar.NewWriter(w)}
}

// Append adds src (a file or a directory tree) under name. A symlinked src
// is resolved so its target's content is stored; links inside the tree are
// kept as links.
func (w *Writer) Append(ctx context.Context, src, name string) error {
	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	root, err := os.Stat(resolved)
	if err != nil {
		return err
	}
	if !root.IsDir() {
		return w.addFile(resolved, name, root)
	}
	src = resolved
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entryName := name
		if rel != "." {
			entryName = path.Join(name, filepath.ToSlash(rel))
		}
		return w.addFile(p, entryName, info)
	})
}

func (w *Writer) addFile(src, name string, info fs.FileInfo) error {
	mode := info.Mode()
	if !mode.IsRegular() && !mode.IsDir() && mode&fs.ModeSymlink == 0 {
		// sockets, fifos and devices are not restorable content
		return nil
	}
	var link string
	if mode&fs.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		link = target
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("header for %s: %w", src, err)
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !mode.IsRegular() {
		return nil
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w.tw, f); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.tw.Close()
}

// Extract unpacks a tar, tar.gz or tar.zst file into dest. Entries that would
// land outside dest are rejected.
func Extract(ctx context.Context, archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	rc, _, err := compress.NewReader(f)
	if err != nil {
		return fmt.Errorf("open compressed stream: %w", err)
	}
	defer rc.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return err
	}

	tr := tar.NewReader(rc)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !within(dest, target) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		if err := extractEntry(tr, hdr, dest, target); err != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, dest, target string) error {
	mode := fs.FileMode(hdr.Mode).Perm()
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, mode|0o700)
	case tar.TypeReg:
		if err := safeParent(dest, target); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
	case tar.TypeSymlink:
		if err := safeParent(dest, target); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		if err := safeParent(dest, target); err != nil {
			return err
		}
		src := filepath.Join(dest, filepath.FromSlash(hdr.Linkname))
		if !within(dest, src) {
			return fmt.Errorf("hard link target %q escapes destination", hdr.Linkname)
		}
		return os.Link(src, target)
	default:
		return nil
	}
}

// safeParent creates the parent of target and checks it does not resolve
// through a symlink to somewhere outside dest.
func safeParent(dest, target string) error {
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return err
	}
	resolved, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return err
	}
	realDest, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return err
	}
	if !within(realDest, resolved) {
		return fmt.Errorf("parent of %s resolves outside destination", target)
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
