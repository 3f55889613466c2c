// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"fmt"
	"os"
	"sync"

	"github.com/shogo82148/androidbinary/apk"
)

// Default suffix for test packages when the project does not name one.
const defaultTestPackageSuffix = ".test"

// ModuleInfo is the metadata source's view of one project module, with
// the effective package identifiers already merged (flavor override plus
// build-type suffix applied on top of the manifest package).
type ModuleInfo struct {
	Name            string
	PackageName     string
	TestPackageName string
	Library         bool
	Deps            []string
	ArtifactPath    string // local application package file
	TestArtifact    string // test package file, if any
	Debuggable      bool
	Requirements    Requirements
	MainActivity    string
}

// PackageMetadataSource supplies project and module metadata. The shipped
// implementation reads a project spec and parses package artifacts; hosts
// embedding the library provide their own.
type PackageMetadataSource interface {
	MainModule() string
	Module(name string) (*ModuleInfo, error)
}

// ModuleSpec is the raw description of a module, before manifest data is
// merged in. All package fields are optional overrides.
type ModuleSpec struct {
	Artifact      string
	TestArtifact  string
	Library       bool
	Deps          []string
	Package       string // overrides the manifest package (merged flavor)
	PackageSuffix string // appended to the effective package (build type)
	TestPackage   string
	Debuggable    *bool // overrides the manifest flag
	MinSdk        int   // overrides the manifest minSdkVersion
	MaxSdk        int   // overrides the manifest maxSdkVersion
}

// ProjectSpec is a full project description.
type ProjectSpec struct {
	Main    string
	Modules map[string]ModuleSpec
}

// projectMetadata resolves ModuleSpec entries into ModuleInfo, reading
// each artifact's binary manifest once and caching the result.
type projectMetadata struct {
	env  Env
	spec ProjectSpec

	mu    sync.Mutex
	cache map[string]*ModuleInfo
}

// NewProjectMetadata builds a PackageMetadataSource from a project spec.
func NewProjectMetadata(env Env, spec ProjectSpec) (PackageMetadataSource, error) {
	if spec.Main == "" {
		return nil, fmt.Errorf("project spec has no main module")
	}
	if _, ok := spec.Modules[spec.Main]; !ok {
		return nil, fmt.Errorf("main module %q is not declared", spec.Main)
	}
	return &projectMetadata{env: env, spec: spec, cache: make(map[string]*ModuleInfo)}, nil
}

func (p *projectMetadata) MainModule() string { return p.spec.Main }

func (p *projectMetadata) Module(name string) (*ModuleInfo, error) {
	p.mu.Lock()
	if info, ok := p.cache[name]; ok {
		p.mu.Unlock()
		return info, nil
	}
	p.mu.Unlock()

	spec, ok := p.spec.Modules[name]
	if !ok {
		return nil, fmt.Errorf("unknown module %q", name)
	}
	info, err := p.resolve(name, spec)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[name] = info
	p.mu.Unlock()
	return info, nil
}

func (p *projectMetadata) resolve(name string, spec ModuleSpec) (*ModuleInfo, error) {
	info := &ModuleInfo{
		Name:         name,
		Library:      spec.Library,
		Deps:         spec.Deps,
		ArtifactPath: spec.Artifact,
		TestArtifact: spec.TestArtifact,
		Debuggable:   true,
	}

	// The merged flavor may override the manifest package entirely; in
	// that case the artifact does not need to be readable here.
	manifestNeeded := spec.Package == ""

	if spec.Artifact != "" {
		m, err := p.readManifest(name, spec.Artifact, manifestNeeded)
		if err != nil {
			return nil, err
		}
		if m != nil {
			if info.PackageName == "" {
				info.PackageName = m.pkg
			}
			info.Requirements = m.req
			info.Debuggable = m.debuggable
			info.MainActivity = m.mainActivity
		}
	} else if manifestNeeded && !spec.Library {
		return nil, &ManifestError{Module: name, Missing: true}
	}

	if spec.Package != "" {
		info.PackageName = spec.Package
	}
	if info.PackageName == "" && !spec.Library {
		return nil, &ManifestError{Module: name, Missing: true}
	}
	info.PackageName += spec.PackageSuffix

	info.TestPackageName = spec.TestPackage
	if info.TestPackageName == "" && info.PackageName != "" {
		info.TestPackageName = info.PackageName + defaultTestPackageSuffix
	}
	if spec.Debuggable != nil {
		info.Debuggable = *spec.Debuggable
	}
	if spec.MinSdk > 0 {
		info.Requirements.MinSdk = spec.MinSdk
	}
	if spec.MaxSdk > 0 {
		info.Requirements.MaxSdk = spec.MaxSdk
	}
	return info, nil
}

type manifestData struct {
	pkg          string
	req          Requirements
	debuggable   bool
	mainActivity string
}

// readManifest parses the binary manifest inside an application package.
// When required is false a missing artifact is tolerated (the module's
// package name comes from an override).
func (p *projectMetadata) readManifest(module, path string, required bool) (*manifestData, error) {
	if _, err := os.Stat(path); err != nil {
		if required {
			return nil, &ManifestError{Module: module, Path: path, Missing: true}
		}
		return nil, nil
	}
	pkg, err := apk.OpenFile(path)
	if err != nil {
		return nil, &ManifestError{Module: module, Path: path, Reason: err.Error()}
	}
	defer pkg.Close()

	manifest := pkg.Manifest()
	name, err := manifest.Package.String()
	if err != nil || name == "" {
		if required {
			return nil, &ManifestError{Module: module, Path: path, Reason: "main package is not specified"}
		}
		name = ""
	}

	data := &manifestData{pkg: name, debuggable: true}
	if v, err := manifest.SDK.Min.Int32(); err == nil {
		data.req.MinSdk = int(v)
	}
	if v, err := manifest.SDK.Max.Int32(); err == nil {
		data.req.MaxSdk = int(v)
	}
	if v, err := manifest.App.Debuggable.Bool(); err == nil {
		data.debuggable = v
	}
	if activity, err := pkg.MainActivity(); err == nil {
		data.mainActivity = activity
	}
	logEvent(p.env, "manifest parsed",
		"module", module,
		"package", data.pkg,
		"min_sdk", data.req.MinSdk,
	)
	return data, nil
}

// PackageNameOf reads the package name out of an application package's
// binary manifest.
func PackageNameOf(path string) (string, error) {
	pkg, err := apk.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer pkg.Close()
	name, err := pkg.Manifest().Package.String()
	if err != nil || name == "" {
		return "", fmt.Errorf("%s: main package is not specified", path)
	}
	return name, nil
}
