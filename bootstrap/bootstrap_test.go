// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootstrap

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cnbphp/platform/solver"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

type tarEntry struct {
	name string
	body string
	dir  bool
	link string
}

func makeArchive(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0755}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func fastBootstrapper() *Bootstrapper {
	return &Bootstrapper{
		Client: http.DefaultClient,
		Retry: solver.Strategy{
			Base:     time.Millisecond,
			Max:      time.Millisecond,
			Attempts: 3,
			Sleep:    func(time.Duration) {},
		},
		Logger: discardLogger(),
	}
}

func TestFetchUnpacksArchive(t *testing.T) {
	archive := makeArchive(t, []tarEntry{
		{name: "composer-2.7/", dir: true},
		{name: "composer-2.7/bin/", dir: true},
		{name: "composer-2.7/bin/composer", body: "#!/bin/sh\n"},
		{name: "composer-2.7/README", body: "readme\n"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	b := fastBootstrapper()
	b.StripComponents = 1
	if err := b.Fetch(context.Background(), srv.URL, dir); err != nil {
		t.Fatal(err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "bin", "composer"))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "#!/bin/sh\n" {
		t.Errorf("unexpected file content %q", body)
	}
	if _, err := os.Stat(filepath.Join(dir, "README")); err != nil {
		t.Errorf("expected README at stripped path: %v", err)
	}
}

func TestFetchRejectsEscapingEntry(t *testing.T) {
	archive := makeArchive(t, []tarEntry{
		{name: "../evil", body: "x"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	b := fastBootstrapper()
	err := b.Fetch(context.Background(), srv.URL, t.TempDir())
	if err == nil {
		t.Fatal("expected an error for a path-escaping entry")
	}
}

func TestFetchRejectsEscapingSymlink(t *testing.T) {
	for _, target := range []string{"../../etc/passwd", "/etc/passwd"} {
		archive := makeArchive(t, []tarEntry{
			{name: "bin/", dir: true},
			{name: "bin/php", link: target},
		})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(archive)
		}))

		err := fastBootstrapper().Fetch(context.Background(), srv.URL, t.TempDir())
		srv.Close()
		if err == nil {
			t.Errorf("expected an error for a symlink targeting %q", target)
		}
	}
}

func TestFetchAllowsInternalSymlink(t *testing.T) {
	archive := makeArchive(t, []tarEntry{
		{name: "bin/", dir: true},
		{name: "bin/php8.1", body: "#!/bin/sh\n"},
		{name: "bin/php", link: "php8.1"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := fastBootstrapper().Fetch(context.Background(), srv.URL, dir); err != nil {
		t.Fatal(err)
	}
	body, err := os.ReadFile(filepath.Join(dir, "bin", "php"))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "#!/bin/sh\n" {
		t.Errorf("symlink resolved to %q", body)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	archive := makeArchive(t, []tarEntry{{name: "file", body: "ok"}})
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := fastBootstrapper().Fetch(context.Background(), srv.URL, dir); err != nil {
		t.Fatal(err)
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
	if _, err := os.Stat(filepath.Join(dir, "file")); err != nil {
		t.Errorf("expected unpacked file after retry: %v", err)
	}
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := fastBootstrapper().Fetch(context.Background(), srv.URL, t.TempDir())
	if err == nil {
		t.Fatal("expected an error")
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (404 is permanent)", hits)
	}
}

func TestEnsureReusesLayer(t *testing.T) {
	archive := makeArchive(t, []tarEntry{{name: "file", body: "ok"}})
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	b := fastBootstrapper()

	downloaded, err := b.Ensure(context.Background(), srv.URL, "cnb-22/amd64/ubuntu-22.04", dir)
	if err != nil {
		t.Fatal(err)
	}
	if !downloaded {
		t.Error("first Ensure should download")
	}

	downloaded, err = b.Ensure(context.Background(), srv.URL, "cnb-22/amd64/ubuntu-22.04", dir)
	if err != nil {
		t.Fatal(err)
	}
	if downloaded {
		t.Error("second Ensure should reuse the layer")
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestEnsureRefreshesOnTargetChange(t *testing.T) {
	archive := makeArchive(t, []tarEntry{{name: "file", body: "ok"}})
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	b := fastBootstrapper()
	if _, err := b.Ensure(context.Background(), srv.URL, "cnb-22/amd64/ubuntu-22.04", dir); err != nil {
		t.Fatal(err)
	}
	downloaded, err := b.Ensure(context.Background(), srv.URL, "cnb-22/arm64/ubuntu-22.04", dir)
	if err != nil {
		t.Fatal(err)
	}
	if !downloaded {
		t.Error("target change should invalidate the layer")
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
}
