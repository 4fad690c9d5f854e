package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/enginesmith/internal/archive"
	"git.home.luguber.info/inful/enginesmith/internal/config"
	"git.home.luguber.info/inful/enginesmith/internal/executil"
	"git.home.luguber.info/inful/enginesmith/internal/gitsrc"
	"git.home.luguber.info/inful/enginesmith/internal/logfields"
	"git.home.luguber.info/inful/enginesmith/internal/prompt"
	"git.home.luguber.info/inful/enginesmith/internal/registry"
	"git.home.luguber.info/inful/enginesmith/internal/releases"
	"git.home.luguber.info/inful/enginesmith/internal/toolchain"
)

// Pipeline step names, in execution order.
const (
	StepCheckTools             = "CheckTools"
	StepResolveIdentity        = "ResolveIdentity"
	StepAcquireSources         = "AcquireSources"
	StepPrepareDependencies    = "PrepareDependencies"
	StepBuildTooling           = "BuildTooling"
	StepGenerateGlue           = "GenerateGlue"
	StepBuildEditor            = "BuildEditor"
	StepBuildTemplates         = "BuildTemplates"
	StepStageArtifacts         = "StageArtifacts"
	StepBuildManagedAssemblies = "BuildManagedAssemblies"
	StepFinalizeAndReport      = "FinalizeAndReport"
)

// Builder provides the concrete step implementations, wiring configuration,
// the process runner, the build registry, the release resolver and the
// source client together.
type Builder struct {
	cfg         *config.Config
	runner      *executil.Runner
	registry    *registry.Registry
	releases    *releases.Client
	prompter    *prompt.Prompter
	git         *gitsrc.Client
	variantName string
	packagesDir string
}

// NewBuilder creates a step builder. The registry is expected to be loaded.
func NewBuilder(cfg *config.Config, runner *executil.Runner, reg *registry.Registry,
	rel *releases.Client, prompter *prompt.Prompter, git *gitsrc.Client) *Builder {
	return &Builder{
		cfg:         cfg,
		runner:      runner,
		registry:    reg,
		releases:    rel,
		prompter:    prompter,
		git:         git,
		packagesDir: cfg.Paths.PackagesDir,
	}
}

// WithVariantName presets the variant name, suppressing the prompt (fluent helper).
func (b *Builder) WithVariantName(name string) *Builder {
	b.variantName = name
	return b
}

// WithPackagesDir overrides the custom package source path (fluent helper).
func (b *Builder) WithPackagesDir(dir string) *Builder {
	if dir != "" {
		b.packagesDir = dir
	}
	return b
}

// Steps returns the full linear pipeline.
func (b *Builder) Steps() []Step {
	return []Step{
		{Name: StepCheckTools, Run: b.checkTools},
		{Name: StepResolveIdentity, Run: b.resolveIdentity},
		{Name: StepAcquireSources, Run: b.acquireSources, NewBuildOnly: true},
		{Name: StepPrepareDependencies, Run: b.prepareDependencies, NewBuildOnly: true},
		{Name: StepBuildTooling, Run: b.buildTooling},
		{Name: StepGenerateGlue, Run: b.generateGlue},
		{Name: StepBuildEditor, Run: b.buildEditor},
		{Name: StepBuildTemplates, Run: b.buildTemplates},
		{Name: StepStageArtifacts, Run: b.stageArtifacts},
		{Name: StepBuildManagedAssemblies, Run: b.buildManagedAssemblies},
		{Name: StepFinalizeAndReport, Run: b.finalize},
	}
}

func (b *Builder) checkTools(_ context.Context, _ *State) error {
	return toolchain.Check(b.cfg.Tools.Required)
}

func (b *Builder) resolveIdentity(ctx context.Context, st *State) error {
	if st.NewBuild {
		return b.resolveNewBuild(ctx, st)
	}
	return b.resolveExistingBuild(st)
}

// resolveNewBuild picks an upstream release, derives a fresh folder
// identity and registers it.
func (b *Builder) resolveNewBuild(ctx context.Context, st *State) error {
	candidates, err := b.releases.FetchRecentStable(ctx, b.cfg.Releases.Limit)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no tags matched the stable release pattern", releases.ErrNoReleases)
	}

	tags := make([]string, len(candidates))
	for i, c := range candidates {
		tags[i] = c.Tag
	}
	idx, err := b.prompter.Select("Select a version to build:", tags)
	if err != nil {
		return err
	}

	variant := b.variantName
	if variant == "" {
		variant, err = b.prompter.Ask("Variant name", "custom")
		if err != nil {
			return err
		}
	}

	tag := candidates[idx].Tag
	identity := DeriveIdentity(tag, variant)
	b.registry.Upsert(identity, registry.BuildRecord{
		VersionTag:  tag,
		VariantName: variant,
		CreatedAt:   time.Now(),
	})
	if err := b.registry.Save(); err != nil {
		return err
	}

	st.BuildID = identity
	st.VersionTag = tag
	st.VariantName = variant
	st.SourceDir = filepath.Join(b.cfg.Paths.BuildsDir, identity)
	slog.Info("Resolved new build identity", logfields.BuildID(identity),
		logfields.Version(tag), logfields.Variant(variant))
	return nil
}

// resolveExistingBuild offers the build directories already on disk,
// cross-referencing the registry for their metadata. A selected directory
// the registry does not know is adopted after prompting for its metadata.
func (b *Builder) resolveExistingBuild(st *State) error {
	entries, err := os.ReadDir(b.cfg.Paths.BuildsDir)
	if err != nil {
		return fmt.Errorf("%w: no builds directory at %s", ErrMissingArtifact, b.cfg.Paths.BuildsDir)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return fmt.Errorf("%w: no existing builds under %s", ErrMissingArtifact, b.cfg.Paths.BuildsDir)
	}

	labels := make([]string, len(dirs))
	for i, d := range dirs {
		if rec, ok := b.registry.Get(d); ok {
			labels[i] = fmt.Sprintf("%s (%s, %s)", d, rec.VersionTag, rec.VariantName)
		} else {
			labels[i] = fmt.Sprintf("%s (untracked)", d)
		}
	}
	idx, err := b.prompter.Select("Select an existing build:", labels)
	if err != nil {
		return err
	}

	chosen := dirs[idx]
	identity := registry.NormalizeIdentity(chosen)
	if rec, ok := b.registry.Get(identity); ok {
		st.VersionTag = rec.VersionTag
		st.VariantName = rec.VariantName
	} else {
		tag, err := b.prompter.Ask("Version tag for this build", "")
		if err != nil {
			return err
		}
		variant := b.variantName
		if variant == "" {
			variant, err = b.prompter.Ask("Variant name", "custom")
			if err != nil {
				return err
			}
		}
		b.registry.Upsert(identity, registry.BuildRecord{
			VersionTag:  tag,
			VariantName: variant,
			CreatedAt:   time.Now(),
		})
		if err := b.registry.Save(); err != nil {
			return err
		}
		st.VersionTag = tag
		st.VariantName = variant
		slog.Info("Adopted untracked build directory", logfields.BuildID(identity))
	}

	st.BuildID = identity
	st.SourceDir = filepath.Join(b.cfg.Paths.BuildsDir, chosen)
	slog.Info("Reusing existing build", logfields.BuildID(identity), logfields.Path(st.SourceDir))
	return nil
}

func (b *Builder) acquireSources(ctx context.Context, st *State) error {
	return b.git.CloneTag(ctx, st.VersionTag, st.SourceDir)
}

// prepareDependencies extracts the managed SDK archive into the source tree
// and copies the operator's custom module sources in. The archive is
// critical; a missing packages directory is logged and skipped.
func (b *Builder) prepareDependencies(_ context.Context, st *State) error {
	sdk := b.cfg.Paths.SDKArchive
	if _, err := os.Stat(sdk); err != nil {
		return fmt.Errorf("%w: SDK archive %s", ErrMissingArtifact, sdk)
	}
	if err := archive.Extract(sdk, st.SourceDir); err != nil {
		return err
	}
	slog.Info("SDK archive extracted", logfields.Path(sdk))

	if _, err := os.Stat(b.packagesDir); err != nil {
		slog.Warn("Custom package sources not found, skipping", logfields.Path(b.packagesDir))
		return nil
	}
	target := filepath.Join(st.SourceDir, "modules")
	if err := copyTree(b.packagesDir, target); err != nil {
		return fmt.Errorf("failed to copy custom packages: %w", err)
	}
	slog.Info("Custom packages staged", logfields.Path(target))
	return nil
}

func (b *Builder) buildTooling(ctx context.Context, st *State) error {
	return b.runScons(ctx, st, "target=editor", "module_mono_enabled=yes", "mono_glue=no")
}

// generateGlue runs the freshly built unlinked editor binary to emit the
// managed glue sources.
func (b *Builder) generateGlue(ctx context.Context, st *State) error {
	editor, err := findEditorBinary(filepath.Join(st.SourceDir, "bin"))
	if err != nil {
		return err
	}
	return b.runTool(ctx, st.SourceDir, editor, "--headless", "--generate-mono-glue", "modules/mono/glue")
}

func (b *Builder) buildEditor(ctx context.Context, st *State) error {
	return b.runScons(ctx, st, "target=editor", "module_mono_enabled=yes", "mono_glue=yes")
}

func (b *Builder) buildTemplates(ctx context.Context, st *State) error {
	return b.runScons(ctx, st, "target=template_release", "module_mono_enabled=yes")
}

// stageArtifacts copies the produced binaries into the build's dist
// directory. The editor binary is critical; anything else in bin is
// auxiliary and copied as found.
func (b *Builder) stageArtifacts(_ context.Context, st *State) error {
	binDir := filepath.Join(st.SourceDir, "bin")
	if _, err := findEditorBinary(binDir); err != nil {
		return err
	}
	distDir := filepath.Join(st.SourceDir, "dist", "bin")
	if err := os.MkdirAll(distDir, 0o750); err != nil {
		return fmt.Errorf("failed to create dist directory: %w", err)
	}

	entries, err := os.ReadDir(binDir)
	if err != nil {
		return fmt.Errorf("%w: bin directory %s", ErrMissingArtifact, binDir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(binDir, e.Name())
		dst := filepath.Join(distDir, e.Name())
		if err := copyFile(src, dst); err != nil {
			// Auxiliary binaries are non-critical.
			slog.Warn("Skipping artifact", logfields.Path(src), logfields.Error(err))
		}
	}
	slog.Info("Artifacts staged", logfields.Path(distDir))
	return nil
}

func (b *Builder) buildManagedAssemblies(ctx context.Context, st *State) error {
	return b.runTool(ctx, st.SourceDir, b.cfg.Tools.ManagedScript)
}

func (b *Builder) finalize(_ context.Context, st *State) error {
	slog.Info("Build finished", logfields.BuildID(st.BuildID),
		logfields.Version(st.VersionTag), logfields.Variant(st.VariantName),
		logfields.Path(filepath.Join(st.SourceDir, "dist", "bin")))
	return nil
}

// runScons invokes the native build driver in the source tree.
func (b *Builder) runScons(ctx context.Context, st *State, args ...string) error {
	full := append([]string{"-j", strconv.Itoa(b.cfg.Tools.SconsJobs)}, args...)
	return b.runTool(ctx, st.SourceDir, b.cfg.Tools.Scons, full...)
}

// runTool runs one external command and translates a non-zero exit code
// into ErrToolFailed.
func (b *Builder) runTool(ctx context.Context, dir, name string, args ...string) error {
	code, err := b.runner.Run(ctx, dir, name, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w: %s exited with code %d", ErrToolFailed, name, code)
	}
	return nil
}

// findEditorBinary locates the editor executable in binDir, preferring
// names marked as editor builds. The returned path is absolute so it stays
// valid when executed with a different working directory.
func findEditorBinary(binDir string) (string, error) {
	entries, err := os.ReadDir(binDir)
	if err != nil {
		return "", fmt.Errorf("%w: bin directory %s", ErrMissingArtifact, binDir)
	}
	var fallback string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		path := filepath.Join(binDir, e.Name())
		if strings.Contains(e.Name(), "editor") {
			return filepath.Abs(path)
		}
		if fallback == "" {
			fallback = path
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: no editor binary under %s", ErrMissingArtifact, binDir)
	}
	return filepath.Abs(fallback)
}

// copyTree copies a directory tree, preserving file modes.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
