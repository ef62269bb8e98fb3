package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/olimci/plugindb/pkg/deps"
	"github.com/olimci/plugindb/pkg/registry"
	"github.com/olimci/plugindb/pkg/resolve"
	"github.com/olimci/plugindb/pkg/status"
)

var testNow = time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

func TestPublishThenUpdateClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dist := t.TempDir()
	dev := testStore(t)
	client := testStore(t)

	writeFile(t, dev.Root, "plugins/Foo_.jar", "foo")
	writeFile(t, dev.Root, "jars/lib.jar", "lib")
	writeFile(t, dev.Root, dependenciesFile, "plugins/Foo_.jar:\n  - jars/lib.jar\n")

	cfg := DefaultConfig()
	cfg.Options.UploadTo = dist
	if err := dev.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig returned error: %v", err)
	}

	ws := openWorkspace(t, dev)

	_, err := ws.Publish(ctx, PublishOptions{Files: []string{"plugins/Foo_.jar"}})
	var implied *resolve.ImpliedUploadsError
	if !errors.As(err, &implied) {
		t.Fatalf("Publish without --auto returned %v, want ImpliedUploadsError", err)
	}
	if !reflect.DeepEqual(implied.Implied, []string{"jars/lib.jar"}) {
		t.Fatalf("implied = %v, want [jars/lib.jar]", implied.Implied)
	}
	if entries, _ := os.ReadDir(dist); len(entries) != 0 {
		t.Fatalf("nothing should be transferred when the closure is rejected, found %d entries", len(entries))
	}

	res, err := ws.Publish(ctx, PublishOptions{Files: []string{"plugins/Foo_.jar"}, Auto: true})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if !reflect.DeepEqual(res.Uploaded, []string{"jars/lib.jar", "plugins/Foo_.jar"}) {
		t.Fatalf("uploaded = %v", res.Uploaded)
	}
	if res.Target != dist {
		t.Fatalf("target = %q, want %q", res.Target, dist)
	}

	lck, err := dev.LoadLock()
	if err != nil {
		t.Fatalf("LoadLock returned error: %v", err)
	}
	if lck.Publish == nil || lck.Publish.Target != dist || len(lck.Publish.Uploaded) != 2 {
		t.Fatalf("lock publish entry = %#v", lck.Publish)
	}

	cws := openWorkspace(t, client)
	up, err := cws.Update(ctx, UpdateOptions{From: dist})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !reflect.DeepEqual(up.Installed, []string{"jars/lib.jar", "plugins/Foo_.jar"}) {
		t.Fatalf("installed = %v", up.Installed)
	}
	assertContent(t, client.Root, "plugins/Foo_.jar", "foo")
	assertContent(t, client.Root, "jars/lib.jar", "lib")
	if _, err := os.Stat(client.UpdatePath()); !os.IsNotExist(err) {
		t.Fatalf("update staging directory should be gone, stat err = %v", err)
	}

	saved, err := registry.Load(client.RegistryPath())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(saved.Records) != 2 {
		t.Fatalf("client registry has %d records, want 2", len(saved.Records))
	}

	if _, err := ws.Publish(ctx, PublishOptions{Files: []string{"plugins/Foo_.jar"}, Remove: true}); err != nil {
		t.Fatalf("Publish remove returned error: %v", err)
	}

	up, err = cws.Update(ctx, UpdateOptions{From: dist})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !reflect.DeepEqual(up.Obsolete, []string{"plugins/Foo_.jar"}) || len(up.Uninstalled) != 0 {
		t.Fatalf("obsolete = %v, uninstalled = %v", up.Obsolete, up.Uninstalled)
	}
	assertContent(t, client.Root, "plugins/Foo_.jar", "foo")

	up, err = cws.Update(ctx, UpdateOptions{From: dist, UninstallObsolete: true})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !reflect.DeepEqual(up.Uninstalled, []string{"plugins/Foo_.jar"}) {
		t.Fatalf("uninstalled = %v", up.Uninstalled)
	}
	if _, err := os.Stat(filepath.Join(client.Root, "plugins")); !os.IsNotExist(err) {
		t.Fatalf("empty plugins directory should be pruned, stat err = %v", err)
	}
}

func TestPublishWithoutTargetUpdatesLocalRegistryOnly(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	writeFile(t, store.Root, "macros/Hello.ijm", "print('hello');")

	ws := openWorkspace(t, store)
	res, err := ws.Publish(context.Background(), PublishOptions{Files: []string{"macros/Hello.ijm"}})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(res.Uploaded) != 1 || len(res.Transferred) != 0 {
		t.Fatalf("uploaded = %v, transferred = %v", res.Uploaded, res.Transferred)
	}

	snap, err := ws.Status(context.Background(), nil)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if snap.Counts[status.Installed] != 1 || len(snap.Changed()) != 0 {
		t.Fatalf("counts = %v, changed = %v", snap.Counts, snap.Changed())
	}

	// Untracked files are never picked up implicitly, and nothing changed.
	writeFile(t, store.Root, "macros/Other.ijm", "print('other');")
	res, err = ws.Publish(context.Background(), PublishOptions{})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if !res.NoOp {
		t.Fatalf("second publish should be a no-op")
	}
}

func TestPublishToTargetSendsVersionsPublishedLocally(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dist := t.TempDir()
	dev := testStore(t)
	client := testStore(t)
	writeFile(t, dev.Root, "plugins/Foo_.jar", "foo")

	ws := openWorkspace(t, dev)
	if _, err := ws.Publish(ctx, PublishOptions{Files: []string{"plugins/Foo_.jar"}}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	res, err := ws.Publish(ctx, PublishOptions{Files: []string{"plugins/Foo_.jar"}, Target: dist})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(res.Uploaded) != 0 || !reflect.DeepEqual(res.Backfilled, []string{"plugins/Foo_.jar"}) {
		t.Fatalf("uploaded = %v, backfilled = %v", res.Uploaded, res.Backfilled)
	}

	cws := openWorkspace(t, client)
	up, err := cws.Update(ctx, UpdateOptions{From: dist})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !reflect.DeepEqual(up.Installed, []string{"plugins/Foo_.jar"}) {
		t.Fatalf("installed = %v", up.Installed)
	}
	assertContent(t, client.Root, "plugins/Foo_.jar", "foo")
}

func TestUpdateInstallsNewDependencyOfUpdatedFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dist := t.TempDir()
	dev := testStore(t)
	client := testStore(t)

	cfg := DefaultConfig()
	cfg.Options.UploadTo = dist
	if err := dev.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig returned error: %v", err)
	}

	writeFile(t, dev.Root, "plugins/Foo_.jar", "foo v1")
	ws := openWorkspace(t, dev)
	if _, err := ws.Publish(ctx, PublishOptions{Files: []string{"plugins/Foo_.jar"}}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	cws := openWorkspace(t, client)
	if _, err := cws.Update(ctx, UpdateOptions{From: dist}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	writeFile(t, dev.Root, "plugins/Foo_.jar", "foo v2")
	writeFile(t, dev.Root, "jars/lib.jar", "lib")
	writeFile(t, dev.Root, dependenciesFile, "plugins/Foo_.jar: [jars/lib.jar]\n")
	if _, err := ws.Publish(ctx, PublishOptions{Files: []string{"plugins/Foo_.jar"}, Auto: true}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	up, err := cws.Update(ctx, UpdateOptions{From: dist})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !reflect.DeepEqual(up.Installed, []string{"jars/lib.jar"}) || !reflect.DeepEqual(up.Updated, []string{"plugins/Foo_.jar"}) {
		t.Fatalf("installed = %v, updated = %v", up.Installed, up.Updated)
	}
	if up.Plan.Items[0].Name != "jars/lib.jar" {
		t.Fatalf("dependency should be applied first, plan = %v", up.Plan.Actions())
	}
	assertContent(t, client.Root, "plugins/Foo_.jar", "foo v2")
	assertContent(t, client.Root, "jars/lib.jar", "lib")
}

func TestRecalcDepsAndStaleEdges(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	writeFile(t, store.Root, "plugins/Foo_.jar", "foo")
	writeFile(t, store.Root, "jars/lib.jar", "lib")

	ws := openWorkspace(t, store)
	if _, err := ws.Publish(context.Background(), PublishOptions{Files: []string{"plugins/Foo_.jar", "jars/lib.jar"}}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	writeFile(t, store.Root, dependenciesFile, "plugins/Foo_.jar: [jars/lib.jar]\n")
	changes, err := ws.RecalcDeps(nil)
	if err != nil {
		t.Fatalf("RecalcDeps returned error: %v", err)
	}
	if len(changes) != 1 || changes[0].Kind != deps.Added || changes[0].Dependency != "jars/lib.jar" {
		t.Fatalf("changes = %v", changes)
	}

	res, err := ws.Validate()
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if res.Files != 2 || res.Edges != 1 || len(res.Stale) != 0 {
		t.Fatalf("validate result = %#v", res)
	}

	writeFile(t, store.Root, "jars/lib.jar", "lib v2")
	if _, err := ws.Publish(context.Background(), PublishOptions{Files: []string{"jars/lib.jar"}}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	res, err = ws.Validate()
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if len(res.Stale) != 1 || res.Stale[0].File != "plugins/Foo_.jar" {
		t.Fatalf("stale = %#v", res.Stale)
	}

	changes, err = ws.RecalcDeps([]string{"plugins/Foo_.jar"})
	if err != nil {
		t.Fatalf("RecalcDeps returned error: %v", err)
	}
	if len(changes) != 1 || changes[0].Kind != deps.Refreshed {
		t.Fatalf("changes = %v", changes)
	}

	reopened := openWorkspace(t, store)
	foo, _ := reopened.Registry.Get("plugins/Foo_.jar")
	lib, _ := reopened.Registry.Get("jars/lib.jar")
	if foo.Dependencies[0].Timestamp != lib.Current.Timestamp {
		t.Fatalf("edge timestamp %s, want %s", foo.Dependencies[0].Timestamp, lib.Current.Timestamp)
	}

	if err := lib.MarkRemoved(); err != nil {
		t.Fatalf("MarkRemoved returned error: %v", err)
	}
	res, err = reopened.Validate()
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if len(res.Stale) != 1 || !res.Stale[0].Removed || res.Stale[0].Dependency != "jars/lib.jar" {
		t.Fatalf("stale = %#v", res.Stale)
	}

	changes, err = reopened.RecalcDeps(nil)
	if err != nil {
		t.Fatalf("RecalcDeps returned error: %v", err)
	}
	if len(changes) != 1 || changes[0].Kind != deps.Dropped {
		t.Fatalf("changes = %v", changes)
	}
}

func TestSyncAddsPreviousVersions(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	old := t.TempDir()
	writeFile(t, store.Root, "jars/lib.jar", "lib v2")
	writeFile(t, old, "jars/lib.jar", "lib v1")

	past := time.Date(2019, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(filepath.Join(old, "jars", "lib.jar"), past, past); err != nil {
		t.Fatalf("Chtimes returned error: %v", err)
	}

	ws := openWorkspace(t, store)
	if _, err := ws.Publish(context.Background(), PublishOptions{Files: []string{"jars/lib.jar"}}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	added, err := ws.Sync(context.Background(), old)
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if len(added) != 1 || added[0].Version.Timestamp != registry.TimestampOf(past) {
		t.Fatalf("added = %#v", added)
	}

	reopened := openWorkspace(t, store)
	lib, _ := reopened.Registry.Get("jars/lib.jar")
	if len(lib.Previous) != 1 {
		t.Fatalf("previous versions = %v", lib.Previous)
	}

	added, err = ws.Sync(context.Background(), old)
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("second sync added %v", added)
	}
}

func TestChecksumsSkipsMissingFiles(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	writeFile(t, store.Root, "jars/a.jar", "a")
	writeFile(t, store.Root, "jars/b.jar", "b")

	ws := openWorkspace(t, store)
	entries, err := ws.Checksums(context.Background(), []string{"jars/a.jar", "jars/missing.jar"})
	if err != nil {
		t.Fatalf("Checksums returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "jars/a.jar" || entries[0].Checksum == "" {
		t.Fatalf("entries = %#v", entries)
	}

	entries, err = ws.Checksums(context.Background(), nil)
	if err != nil {
		t.Fatalf("Checksums returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestUpdateNeedsSource(t *testing.T) {
	t.Parallel()

	ws := openWorkspace(t, testStore(t))
	if _, err := ws.Update(context.Background(), UpdateOptions{}); err == nil {
		t.Fatalf("expected error without an update source")
	}
}

func testStore(t *testing.T) Store {
	t.Helper()
	return Store{Root: t.TempDir()}
}

func openWorkspace(t *testing.T, s Store) *Workspace {
	t.Helper()

	ws, err := s.Workspace(nil)
	if err != nil {
		t.Fatalf("Workspace returned error: %v", err)
	}
	ws.Now = func() time.Time { return testNow }
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func writeFile(t *testing.T, root, name, body string) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("MkdirAll returned error: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
}

func assertContent(t *testing.T, root, name, want string) {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	if string(data) != want {
		t.Fatalf("%s = %q, want %q", name, data, want)
	}
}
