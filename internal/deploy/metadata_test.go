package deploy

import (
	"errors"
	"testing"
)

func TestNewProjectMetadataValidatesMain(t *testing.T) {
	if _, err := NewProjectMetadata(Env{}, ProjectSpec{}); err == nil {
		t.Fatal("empty main module should be rejected")
	}
	if _, err := NewProjectMetadata(Env{}, ProjectSpec{Main: "app"}); err == nil {
		t.Fatal("undeclared main module should be rejected")
	}
}

func TestModuleResolvesFromOverrides(t *testing.T) {
	md, err := NewProjectMetadata(Env{}, ProjectSpec{
		Main: "app",
		Modules: map[string]ModuleSpec{
			"app": {
				// Artifact path does not exist; the package override makes
				// the manifest optional.
				Artifact:      "/nonexistent/app.apk",
				Package:       "com.example.app",
				PackageSuffix: ".debug",
				Deps:          []string{"lib"},
			},
			"lib": {Library: true},
		},
	})
	if err != nil {
		t.Fatalf("NewProjectMetadata: %v", err)
	}

	info, err := md.Module("app")
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if info.PackageName != "com.example.app.debug" {
		t.Fatalf("package = %q", info.PackageName)
	}
	if info.TestPackageName != "com.example.app.debug.test" {
		t.Fatalf("test package = %q", info.TestPackageName)
	}
	if !info.Debuggable {
		t.Fatal("debuggable defaults to true without a manifest")
	}

	lib, err := md.Module("lib")
	if err != nil {
		t.Fatalf("Module(lib): %v", err)
	}
	if !lib.Library || lib.PackageName != "" {
		t.Fatalf("library resolved to %#v", lib)
	}
}

func TestModuleTestPackageOverride(t *testing.T) {
	md, _ := NewProjectMetadata(Env{}, ProjectSpec{
		Main: "app",
		Modules: map[string]ModuleSpec{
			"app": {Package: "com.example.app", TestPackage: "com.example.tests"},
		},
	})
	info, err := md.Module("app")
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if info.TestPackageName != "com.example.tests" {
		t.Fatalf("test package = %q", info.TestPackageName)
	}
}

func TestModuleDebuggableOverrideWins(t *testing.T) {
	off := false
	md, _ := NewProjectMetadata(Env{}, ProjectSpec{
		Main: "app",
		Modules: map[string]ModuleSpec{
			"app": {Package: "com.example.app", Debuggable: &off},
		},
	})
	info, err := md.Module("app")
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if info.Debuggable {
		t.Fatal("explicit debuggable override should win")
	}
}

func TestModuleMissingArtifactIsManifestError(t *testing.T) {
	md, _ := NewProjectMetadata(Env{}, ProjectSpec{
		Main: "app",
		Modules: map[string]ModuleSpec{
			// No artifact and no package override: nothing to install.
			"app": {},
		},
	})
	_, err := md.Module("app")
	var manifestErr *ManifestError
	if !errors.As(err, &manifestErr) || !manifestErr.Missing {
		t.Fatalf("expected missing-manifest error, got %v", err)
	}
}

func TestModuleUnknownName(t *testing.T) {
	md, _ := NewProjectMetadata(Env{}, ProjectSpec{
		Main:    "app",
		Modules: map[string]ModuleSpec{"app": {Package: "com.example.app"}},
	})
	if _, err := md.Module("ghost"); err == nil {
		t.Fatal("unknown module should error")
	}
}

func TestModuleSdkOverrides(t *testing.T) {
	md, err := NewProjectMetadata(Env{}, ProjectSpec{
		Main: "app",
		Modules: map[string]ModuleSpec{
			"app": {Package: "com.example.app", MinSdk: 26, MaxSdk: 34},
		},
	})
	if err != nil {
		t.Fatalf("NewProjectMetadata: %v", err)
	}
	info, err := md.Module("app")
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if info.Requirements.MinSdk != 26 || info.Requirements.MaxSdk != 34 {
		t.Fatalf("requirements = %+v", info.Requirements)
	}
}
