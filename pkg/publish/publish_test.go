package publish

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olimci/plugindb/pkg/deps"
	"github.com/olimci/plugindb/pkg/digest"
	"github.com/olimci/plugindb/pkg/graph"
	"github.com/olimci/plugindb/pkg/registry"
	"github.com/olimci/plugindb/pkg/resolve"
	"github.com/olimci/plugindb/pkg/scan"
	"github.com/olimci/plugindb/pkg/status"
)

var fixedNow = time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

type staticDeps map[string][]string

func (s staticDeps) Dependencies(name string) ([]string, error) {
	out, ok := s[name]
	if !ok {
		return nil, deps.ErrNotDeclared
	}
	return out, nil
}

type failingTransport struct {
	DirTransport
	failOn  string
	puts    []string
	deleted []string
}

func (f *failingTransport) Put(ctx context.Context, localPath, remoteName string) error {
	if remoteName == f.failOn {
		return errors.New("connection reset")
	}
	f.puts = append(f.puts, remoteName)
	return f.DirTransport.Put(ctx, localPath, remoteName)
}

func (f *failingTransport) Delete(ctx context.Context, remoteName string) error {
	f.deleted = append(f.deleted, remoteName)
	return f.DirTransport.Delete(ctx, remoteName)
}

func writeFile(t *testing.T, root, name, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func plan(t *testing.T, root string, reg *registry.Registry, ex deps.Extractor, req resolve.Request) *resolve.Plan {
	t.Helper()

	s := &scan.Scanner{Root: root, Algorithm: digest.SHA256}
	entries, err := s.Scan(context.Background(), reg)
	require.NoError(t, err)

	r := resolve.New(reg, entries, resolve.ExtractorDeps(reg, ex), nil)
	if req.Files == nil {
		req.Files = r.Candidates(req.Action)
	}
	p, err := r.Resolve(req)
	require.NoError(t, err)
	return p
}

func TestPublishNoOpLeavesRegistryUntouched(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dist := t.TempDir()
	regPath := filepath.Join(root, "db.xml.gz")

	reg := registry.New()
	require.NoError(t, reg.Ensure("plugin.jar").SetVersion("abc123", 20200101000000, 6))
	require.NoError(t, registry.Save(regPath, reg))
	before, err := os.ReadFile(regPath)
	require.NoError(t, err)

	entries := []scan.Entry{{Name: "plugin.jar", Record: reg.Records["plugin.jar"], Checksum: "abc123", Present: true}}
	entries[0].Status = status.Derive(entries[0].Record, "abc123", true)
	require.Equal(t, status.Installed, entries[0].Status)

	r := resolve.New(reg, entries, nil, nil)
	p, err := r.Resolve(resolve.Request{Action: status.Upload, Files: r.Candidates(status.Upload)})
	require.NoError(t, err)
	require.Equal(t, status.NoOp, p.ActionFor("plugin.jar"))

	pub := &Publisher{Root: root, RegistryPath: regPath, Transport: &DirTransport{Root: dist}, Now: func() time.Time { return fixedNow }}
	res, err := pub.Publish(context.Background(), reg, p)
	require.NoError(t, err)
	require.True(t, res.NoOp)

	after, err := os.ReadFile(regPath)
	require.NoError(t, err)
	require.True(t, bytes.Equal(before, after))

	distEntries, err := os.ReadDir(dist)
	require.NoError(t, err)
	require.Empty(t, distEntries)
}

func TestPublishUploadsClosureAndRegistry(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dist := t.TempDir()
	regPath := filepath.Join(root, "db.xml.gz")

	writeFile(t, root, "jars/lib.jar", "lib v1")
	writeFile(t, root, "plugins/Foo_.jar", "foo v1")
	ex := staticDeps{"plugins/Foo_.jar": {"jars/lib.jar"}, "jars/lib.jar": {}}

	reg := registry.New()
	p := plan(t, root, reg, ex, resolve.Request{Action: status.Upload, Files: []string{"plugins/Foo_.jar"}, Auto: true})
	require.Equal(t, map[string]status.Action{
		"jars/lib.jar":     status.Upload,
		"plugins/Foo_.jar": status.Upload,
	}, p.Actions())

	pub := &Publisher{Root: root, RegistryPath: regPath, Transport: &DirTransport{Root: dist}, Extractor: ex, Now: func() time.Time { return fixedNow }}
	res, err := pub.Publish(context.Background(), reg, p)
	require.NoError(t, err)
	require.Len(t, res.Transferred, 2)
	require.Empty(t, reg.Records, "input registry must not be modified")

	ts := registry.TimestampOf(fixedNow)
	for _, name := range []string{"jars/lib.jar", "plugins/Foo_.jar"} {
		_, err := os.Stat(filepath.Join(dist, filepath.FromSlash(RemoteName(name, ts))))
		require.NoError(t, err, "remote copy of %s", name)
	}

	local, err := registry.Load(regPath)
	require.NoError(t, err)
	remote, err := registry.Load(filepath.Join(dist, RegistryFile))
	require.NoError(t, err)
	require.Equal(t, local.Names(), remote.Names())

	foo, ok := local.Get("plugins/Foo_.jar")
	require.True(t, ok)
	require.Equal(t, ts, foo.Current.Timestamp)
	require.Equal(t, []registry.Dependency{{Filename: "jars/lib.jar", Timestamp: ts}}, foo.Dependencies)

	// A second run sees everything installed and does nothing.
	p = plan(t, root, local, ex, resolve.Request{Action: status.Upload})
	require.True(t, p.Empty())

	// Editing the library publishes a new version past the old timestamp.
	writeFile(t, root, "jars/lib.jar", "lib v2")
	p = plan(t, root, local, ex, resolve.Request{Action: status.Upload})
	require.Equal(t, map[string]status.Action{"jars/lib.jar": status.Upload}, p.Actions())

	res, err = pub.Publish(context.Background(), local, p)
	require.NoError(t, err)
	lib, _ := res.Registry.Get("jars/lib.jar")
	require.Equal(t, ts+1, lib.Current.Timestamp)
	require.Len(t, lib.Previous, 1)
}

func TestPublishTransferFailureAbortsBatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dist := t.TempDir()
	regPath := filepath.Join(root, "db.xml.gz")

	writeFile(t, root, "jars/a.jar", "a")
	writeFile(t, root, "jars/b.jar", "b")
	writeFile(t, root, "jars/c.jar", "c")

	reg := registry.New()
	p := plan(t, root, reg, nil, resolve.Request{Action: status.Upload, Files: []string{"jars/a.jar", "jars/b.jar", "jars/c.jar"}})

	ts := registry.TimestampOf(fixedNow)
	tr := &failingTransport{DirTransport: DirTransport{Root: dist}, failOn: RemoteName("jars/b.jar", ts)}
	pub := &Publisher{Root: root, RegistryPath: regPath, Transport: tr, Now: func() time.Time { return fixedNow }}

	_, err := pub.Publish(context.Background(), reg, p)
	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	require.ErrorIs(t, err, ErrTransfer)
	require.Equal(t, "jars/b.jar", transferErr.File)

	require.Equal(t, []string{RemoteName("jars/a.jar", ts)}, tr.puts)
	require.Equal(t, tr.puts, tr.deleted)

	_, err = os.Stat(regPath)
	require.True(t, os.IsNotExist(err), "registry must not be written after a failed transfer")
	_, err = os.Stat(filepath.Join(dist, RegistryFile))
	require.True(t, os.IsNotExist(err))
}

func TestPublishSendsVersionsMissingOnTarget(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	regPath := filepath.Join(root, "db.xml.gz")
	writeFile(t, root, "jars/a.jar", "a")
	writeFile(t, root, "jars/b.jar", "b")

	local := &Publisher{Root: root, RegistryPath: regPath, Now: func() time.Time { return fixedNow }}
	reg := registry.New()
	p := plan(t, root, reg, nil, resolve.Request{Action: status.Upload, Files: []string{"jars/a.jar", "jars/b.jar"}})
	res, err := local.Publish(context.Background(), reg, p)
	require.NoError(t, err)
	require.Empty(t, res.Transferred)
	published := res.Registry

	dist := t.TempDir()
	pub := &Publisher{Root: root, RegistryPath: regPath, Transport: &DirTransport{Root: dist}, Now: func() time.Time { return fixedNow }}
	p = plan(t, root, published, nil, resolve.Request{Action: status.Upload, Files: []string{"jars/a.jar"}})
	res, err = pub.Publish(context.Background(), published, p)
	require.NoError(t, err)
	require.Empty(t, res.Uploaded)
	require.Equal(t, []string{"jars/a.jar", "jars/b.jar"}, res.Backfilled)

	ts := registry.TimestampOf(fixedNow)
	for _, name := range []string{"jars/a.jar", "jars/b.jar", RegistryFile} {
		remote := name
		if name != RegistryFile {
			remote = RemoteName(name, ts)
		}
		_, err := os.Stat(filepath.Join(dist, filepath.FromSlash(remote)))
		require.NoError(t, err, "remote copy of %s", name)
	}

	// A version whose local copy has changed since cannot be sent.
	writeFile(t, root, "jars/b.jar", "b edited")
	empty := t.TempDir()
	pub.Transport = &DirTransport{Root: empty}
	p = plan(t, root, published, nil, resolve.Request{Action: status.Upload, Files: []string{"jars/a.jar"}})
	_, err = pub.Publish(context.Background(), published, p)
	require.ErrorIs(t, err, ErrMissingVersion)

	distEntries, err := os.ReadDir(empty)
	require.NoError(t, err)
	require.Empty(t, distEntries)
}

func TestPublishRejectsCycles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dist := t.TempDir()
	regPath := filepath.Join(root, "db.xml.gz")

	writeFile(t, root, "jars/a.jar", "a")
	writeFile(t, root, "jars/b.jar", "b")
	ex := staticDeps{"jars/a.jar": {"jars/b.jar"}, "jars/b.jar": {"jars/a.jar"}}

	reg := registry.New()
	s := &scan.Scanner{Root: root}
	entries, err := s.Scan(context.Background(), reg)
	require.NoError(t, err)

	_, err = resolve.New(reg, entries, resolve.ExtractorDeps(reg, ex), nil).
		Resolve(resolve.Request{Action: status.Upload, Files: []string{"jars/a.jar"}, Auto: true})
	require.ErrorIs(t, err, graph.ErrCycle)

	// A plan built without the cycle still gets caught when edges are rebuilt.
	p, err := resolve.New(reg, entries, nil, nil).
		Resolve(resolve.Request{Action: status.Upload, Files: []string{"jars/a.jar", "jars/b.jar"}})
	require.NoError(t, err)

	pub := &Publisher{Root: root, RegistryPath: regPath, Transport: &DirTransport{Root: dist}, Extractor: ex, Now: func() time.Time { return fixedNow }}
	_, err = pub.Publish(context.Background(), reg, p)
	var cycleErr *graph.CycleError
	require.ErrorAs(t, err, &cycleErr)

	distEntries, err := os.ReadDir(dist)
	require.NoError(t, err)
	require.Empty(t, distEntries)
}

func TestPublishRemoveCreatesTombstone(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	regPath := filepath.Join(root, "db.xml.gz")
	writeFile(t, root, "macros/Old.ijm", "old")

	sum, err := digest.Checksum(filepath.Join(root, "macros", "Old.ijm"), digest.SHA256)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Ensure("macros/Old.ijm").SetVersion(sum, 20200101000000, 3))

	p := plan(t, root, reg, nil, resolve.Request{Action: status.Remove, Files: []string{"macros/Old.ijm"}})

	pub := &Publisher{Root: root, RegistryPath: regPath, Now: func() time.Time { return fixedNow }}
	res, err := pub.Publish(context.Background(), reg, p)
	require.NoError(t, err)
	require.Equal(t, []string{"macros/Old.ijm"}, res.Removed)

	saved, err := registry.Load(regPath)
	require.NoError(t, err)
	rec, _ := saved.Get("macros/Old.ijm")
	require.True(t, rec.IsObsolete())

	entries, err := (&scan.Scanner{Root: root}).Scan(context.Background(), saved)
	require.NoError(t, err)
	require.Equal(t, status.Obsolete, entries[0].Status)
}

func TestInstallerAppliesUpdates(t *testing.T) {
	t.Parallel()

	devRoot := t.TempDir()
	dist := t.TempDir()
	client := t.TempDir()

	writeFile(t, devRoot, "jars/lib.jar", "lib v2")
	writeFile(t, devRoot, "plugins/Foo_.jar", "foo v2")

	reg := registry.New()
	p := plan(t, devRoot, reg, nil, resolve.Request{Action: status.Upload, Files: []string{"jars/lib.jar", "plugins/Foo_.jar"}})
	pub := &Publisher{Root: devRoot, RegistryPath: filepath.Join(devRoot, "db.xml.gz"), Transport: &DirTransport{Root: dist}, Now: func() time.Time { return fixedNow }}
	res, err := pub.Publish(context.Background(), reg, p)
	require.NoError(t, err)
	published := res.Registry

	writeFile(t, client, "plugins/Foo_.jar", "locally edited")

	entries, err := (&scan.Scanner{Root: client}).Scan(context.Background(), published)
	require.NoError(t, err)
	r := resolve.New(published, entries, nil, nil)
	require.Equal(t, []string{"jars/lib.jar"}, r.Candidates(status.Install))

	installPlan, err := r.Resolve(resolve.Request{Action: status.Install, Files: r.Candidates(status.Install)})
	require.NoError(t, err)

	in := &Installer{Root: client, Transport: &DirTransport{Root: dist}}
	applied, err := in.Apply(context.Background(), published, installPlan)
	require.NoError(t, err)
	require.Equal(t, []string{"jars/lib.jar"}, applied.Installed)

	data, err := os.ReadFile(filepath.Join(client, "jars", "lib.jar"))
	require.NoError(t, err)
	require.Equal(t, "lib v2", string(data))
	_, err = os.Stat(filepath.Join(client, "update"))
	require.True(t, os.IsNotExist(err), "staging directory should be cleaned up")

	edited, err := os.ReadFile(filepath.Join(client, "plugins", "Foo_.jar"))
	require.NoError(t, err)
	require.Equal(t, "locally edited", string(edited))
}

func TestInstallerRejectsWrongChecksum(t *testing.T) {
	t.Parallel()

	client := t.TempDir()
	dist := t.TempDir()

	reg := registry.New()
	require.NoError(t, reg.Ensure("jars/lib.jar").SetVersion("deadbeef", 20200101000000, 4))
	writeFile(t, dist, RemoteName("jars/lib.jar", 20200101000000), "tampered")

	p := &resolve.Plan{Action: status.Install, Items: []resolve.Item{{Name: "jars/lib.jar", Status: status.NotInstalled, Action: status.Install}}}
	in := &Installer{Root: client, Transport: &DirTransport{Root: dist}}

	_, err := in.Apply(context.Background(), reg, p)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	_, err = os.Stat(filepath.Join(client, "jars", "lib.jar"))
	require.True(t, os.IsNotExist(err))
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tr, err := ParseTarget(dir, S3Config{})
	require.NoError(t, err)
	require.IsType(t, &DirTransport{}, tr)
	require.Equal(t, dir, tr.String())

	tr, err = ParseTarget("s3://fiji-updates/stable/", S3Config{Endpoint: "localhost:9000", AccessKey: "key", SecretKey: "secret"})
	require.NoError(t, err)
	require.Equal(t, "s3://fiji-updates/stable", tr.String())

	_, err = ParseTarget("s3://", S3Config{Endpoint: "localhost:9000", AccessKey: "key", SecretKey: "secret"})
	require.Error(t, err)
	_, err = ParseTarget("s3://bucket", S3Config{})
	require.Error(t, err)
}
