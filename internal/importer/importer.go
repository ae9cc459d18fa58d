package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cleared-dev/tally/internal/model"
)

// MaxUploadBytes is the largest statement the upload surfaces accept.
const MaxUploadBytes = 10 << 20

// File is a statement handed to the parser.
type File struct {
	Name     string
	Size     int64
	ModTime  time.Time
	Body     io.Reader
	Password string
}

// Fingerprint returns the dedup key for the file.
func (f File) Fingerprint() model.FileFingerprint {
	return model.FileFingerprint{Name: f.Name, Size: f.Size, ModTime: f.ModTime}
}

// Ext returns the lowercased extension including the dot.
func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// Source is a fully read statement passed to a Decoder.
type Source struct {
	Name     string
	Data     []byte
	Password string
}

// Decoder converts one file format into a RawTable.
type Decoder interface {
	Decode(ctx context.Context, src Source) (model.RawTable, error)
	Extensions() []string
}

// Registry holds decoders keyed by file extension.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register adds a decoder for each of its extensions. Panics on duplicate extension.
func (r *Registry) Register(d Decoder) {
	for _, ext := range d.Extensions() {
		key := normalizeExt(ext)
		if _, ok := r.decoders[key]; ok {
			panic("duplicate decoder extension: " + key)
		}
		r.decoders[key] = d
	}
}

// Get returns the decoder for ext, or nil.
func (r *Registry) Get(ext string) Decoder {
	return r.decoders[normalizeExt(ext)]
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.decoders))
	for ext := range r.decoders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether name has a registered extension.
func (r *Registry) Supports(name string) bool {
	return r.Get(filepath.Ext(name)) != nil
}

// DefaultRegistry returns a registry with all built-in decoders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&CSVDecoder{})
	r.Register(&XLSXDecoder{})
	r.Register(&XLSDecoder{})
	r.Register(NewPDFDecoder(DefaultLayouts()))
	return r
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// LoadFile reads a statement from disk into a File.
func LoadFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return File{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Body:    bytes.NewReader(data),
	}, nil
}

// FileInfo describes a statement file in the import directory.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Fingerprint returns the dedup key for the file.
func (fi FileInfo) Fingerprint() model.FileFingerprint {
	return model.FileFingerprint{Name: fi.Name, Size: fi.Size, ModTime: fi.ModTime}
}

// importDir is the subdirectory for statements waiting to be imported.
const importDir = "import"

// processedDir is the subdirectory for imported statements.
const processedDir = "import/processed"

// Scan returns statement files in <workspace>/import/ that reg can decode.
func Scan(workspace string, reg *Registry) ([]FileInfo, error) {
	dir := filepath.Join(workspace, importDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !reg.Supports(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

// MarkProcessed moves a file from import/ to import/processed/.
func MarkProcessed(workspace, fileName string) error {
	src := filepath.Join(workspace, importDir, fileName)
	dstDir := filepath.Join(workspace, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
