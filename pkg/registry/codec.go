package registry

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

type xmlRegistry struct {
	XMLName xml.Name    `xml:"pluginRecords"`
	Plugins []xmlPlugin `xml:"plugin"`
}

type xmlPlugin struct {
	Filename string        `xml:"filename,attr"`
	Version  *xmlVersion   `xml:"version,omitempty"`
	Previous []xmlPrevious `xml:"previous-version"`
}

type xmlVersion struct {
	Checksum     string          `xml:"checksum,attr"`
	Timestamp    string          `xml:"timestamp,attr"`
	Filesize     int64           `xml:"filesize,attr"`
	Description  string          `xml:"description,omitempty"`
	Dependencies []xmlDependency `xml:"dependency"`
}

type xmlDependency struct {
	Filename  string `xml:"filename,attr"`
	Timestamp string `xml:"timestamp,attr"`
}

type xmlPrevious struct {
	Checksum  string `xml:"checksum,attr"`
	Timestamp string `xml:"timestamp,attr"`
}

// Encode writes the registry as gzip-compressed XML. Records, dependencies
// and previous versions are emitted in a fixed order and the gzip header
// carries no name or mtime, so equal registries encode to equal bytes.
func Encode(w io.Writer, r *Registry) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("create gzip writer: %w", err)
	}
	if err := EncodeXML(zw, r); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish gzip stream: %w", err)
	}
	return nil
}

// EncodeXML writes the uncompressed XML form.
func EncodeXML(w io.Writer, r *Registry) error {
	doc := xmlRegistry{Plugins: make([]xmlPlugin, 0, len(r.Records))}
	for _, name := range r.Names() {
		doc.Plugins = append(doc.Plugins, toXML(r.Records[name]))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

// Decode reads a registry in gzip-compressed or plain XML form. Any parse
// or per-record invariant failure is reported as *FormatError.
func Decode(rd io.Reader) (*Registry, error) {
	br := bufio.NewReader(rd)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, &FormatError{Err: err}
	}

	var src io.Reader = br
	if bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, &FormatError{Err: fmt.Errorf("gzip: %w", err)}
		}
		defer zr.Close()
		src = zr
	}

	var doc xmlRegistry
	if err := xml.NewDecoder(src).Decode(&doc); err != nil {
		return nil, &FormatError{Err: err}
	}

	reg := New()
	for _, p := range doc.Plugins {
		rec, err := fromXML(p)
		if err != nil {
			return nil, &FormatError{Record: p.Filename, Err: err}
		}
		if err := ValidateRecord(rec); err != nil {
			return nil, &FormatError{Record: p.Filename, Err: err}
		}
		if err := reg.Add(rec); err != nil {
			return nil, &FormatError{Record: p.Filename, Err: err}
		}
	}
	return reg, nil
}

func toXML(rec *FileRecord) xmlPlugin {
	out := xmlPlugin{Filename: rec.Filename}

	if rec.Current != nil {
		v := &xmlVersion{
			Checksum:    rec.Current.Checksum,
			Timestamp:   rec.Current.Timestamp.String(),
			Filesize:    rec.Filesize,
			Description: rec.Description,
		}
		deps := append([]Dependency(nil), rec.Dependencies...)
		sortDependencies(deps)
		for _, d := range deps {
			v.Dependencies = append(v.Dependencies, xmlDependency{
				Filename:  d.Filename,
				Timestamp: d.Timestamp.String(),
			})
		}
		out.Version = v
	}

	for _, prev := range rec.Previous {
		out.Previous = append(out.Previous, xmlPrevious{
			Checksum:  prev.Checksum,
			Timestamp: prev.Timestamp.String(),
		})
	}
	return out
}

func fromXML(p xmlPlugin) (*FileRecord, error) {
	rec := &FileRecord{Filename: strings.TrimSpace(p.Filename)}

	if p.Version != nil {
		ts, err := ParseTimestamp(p.Version.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("current version: %w", err)
		}
		rec.Current = &Version{Checksum: p.Version.Checksum, Timestamp: ts}
		rec.Filesize = p.Version.Filesize
		rec.Description = strings.TrimSpace(p.Version.Description)

		for _, d := range p.Version.Dependencies {
			dts, err := ParseTimestamp(d.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("dependency %s: %w", d.Filename, err)
			}
			rec.Dependencies = append(rec.Dependencies, Dependency{Filename: d.Filename, Timestamp: dts})
		}
		sortDependencies(rec.Dependencies)
	}

	for _, prev := range p.Previous {
		ts, err := ParseTimestamp(prev.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("previous version: %w", err)
		}
		rec.Previous = append(rec.Previous, Version{Checksum: prev.Checksum, Timestamp: ts})
	}

	return rec, nil
}
