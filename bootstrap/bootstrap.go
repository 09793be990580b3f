// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bootstrap fetches the solver toolchain archive into a layer
// directory, reusing a previous download when nothing about it changed.
package bootstrap

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cnbphp/platform/solver"
)

// metadataFile records what a layer directory holds.
const metadataFile = ".bootstrap.toml"

// Metadata identifies the content of a bootstrapped layer. A layer is
// reusable iff both fields match the requested download.
type Metadata struct {
	URL    string `toml:"url"`
	Target string `toml:"target"`
}

// Bootstrapper downloads and unpacks tar.gz toolchain archives.
type Bootstrapper struct {
	// Client defaults to a client with a generous overall timeout.
	Client *http.Client
	Retry  solver.Strategy
	Logger logrus.FieldLogger

	// StripComponents drops this many leading path elements from every
	// archive entry, the way tar --strip-components does. Release
	// tarballs commonly nest everything under a version directory.
	StripComponents int
}

// New returns a Bootstrapper with production defaults.
func New(logger logrus.FieldLogger) *Bootstrapper {
	return &Bootstrapper{
		Client: &http.Client{Timeout: 5 * time.Minute},
		Retry:  solver.DefaultStrategy,
		Logger: logger,
	}
}

// Ensure makes dir hold the archive at url for the given target triple.
// It reports whether a download happened; false means the existing layer
// was reused.
func (b *Bootstrapper) Ensure(ctx context.Context, url, target, dir string) (bool, error) {
	want := Metadata{URL: url, Target: target}
	if have, err := readMetadata(filepath.Join(dir, metadataFile)); err == nil && have == want {
		b.logger().WithFields(logrus.Fields{"url": url, "target": target}).
			Debug("bootstrap layer up to date")
		return false, nil
	}

	// Anything present is stale content from a different URL or target.
	if err := os.RemoveAll(dir); err != nil {
		return false, errors.Wrapf(err, "could not clear layer %s", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, errors.Wrapf(err, "could not create layer %s", dir)
	}

	if err := b.Fetch(ctx, url, dir); err != nil {
		return false, err
	}
	if err := writeMetadata(filepath.Join(dir, metadataFile), want); err != nil {
		return false, err
	}
	return true, nil
}

// Fetch downloads the tar.gz at url and unpacks it into dir, retrying
// transient network failures.
func (b *Bootstrapper) Fetch(ctx context.Context, url, dir string) error {
	retry := b.Retry
	if retry.Attempts == 0 {
		retry = solver.DefaultStrategy
	}
	return retry.Do(ctx, "download "+url, func() error {
		return b.fetchOnce(ctx, url, dir)
	})
}

func (b *Bootstrapper) fetchOnce(ctx context.Context, url, dir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(err, "invalid bootstrap URL %s", url)
	}
	resp, err := b.client().Do(req)
	if err != nil {
		return errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The status text keeps 5xx responses recognizable as transient.
		return errors.Errorf("fetching %s: status code %d %s",
			url, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return b.unpack(resp.Body, dir)
}

// Unpack extracts a tar.gz stream into dir. Entries escaping dir are
// rejected.
func (b *Bootstrapper) unpack(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "archive is not gzip")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading archive")
		}

		name, ok := b.stripName(hdr.Name)
		if !ok {
			continue
		}
		dest := filepath.Join(dir, name)
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
			return errors.Errorf("archive entry %q escapes the target directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)|0700); err != nil {
				return errors.Wrapf(err, "could not create %s", dest)
			}
		case tar.TypeSymlink:
			target := hdr.Linkname
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(dest), target)
			}
			if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
				return errors.Errorf("archive link %q escapes the target directory", hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return errors.Wrapf(err, "could not create %s", filepath.Dir(dest))
			}
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return errors.Wrapf(err, "could not link %s", dest)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return errors.Wrapf(err, "could not create %s", filepath.Dir(dest))
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return errors.Wrapf(err, "could not create %s", dest)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return errors.Wrapf(err, "could not write %s", dest)
			}
			if err := f.Close(); err != nil {
				return errors.Wrapf(err, "could not write %s", dest)
			}
		}
	}
}

// stripName applies StripComponents to an archive entry name. The second
// return is false when the entry has nothing left after stripping.
func (b *Bootstrapper) stripName(name string) (string, bool) {
	name = filepath.ToSlash(name)
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= b.StripComponents {
		return "", false
	}
	out := strings.Join(parts[b.StripComponents:], "/")
	if out == "" || out == "." {
		return "", false
	}
	return out, true
}

func (b *Bootstrapper) client() *http.Client {
	if b.Client == nil {
		return http.DefaultClient
	}
	return b.Client
}

func (b *Bootstrapper) logger() logrus.FieldLogger {
	if b.Logger == nil {
		return logrus.StandardLogger()
	}
	return b.Logger
}

func readMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := toml.Unmarshal(data, &m); err != nil {
		return Metadata{}, errors.Wrapf(err, "corrupt layer metadata %s", path)
	}
	return m, nil
}

func writeMetadata(path string, m Metadata) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "could not encode layer metadata")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "could not write %s", path)
}
