package vulkan

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ShaderHotReloader watches assets/shaders for .glsl writes and shells
// out to glslc, the same compiler invocation magefiles/build.go's
// buildShaders uses, so a stale .spv never survives past the frame
// after its source changed. Mirrors engine/assets/assets.go's
// fsnotify.Watcher usage, narrowed to a single directory and a single
// file extension.
type ShaderHotReloader struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// glslStageFlag maps a shader's base name suffix to glslc's
// -fshader-stage value, the same association shaderSources in
// magefiles/build.go encodes for the offline build.
func glslStageFlag(name string) (string, bool) {
	switch {
	case strings.HasSuffix(name, ".vert"):
		return "vert", true
	case strings.HasSuffix(name, ".frag"):
		return "frag", true
	case strings.HasSuffix(name, ".geom"):
		return "geom", true
	case strings.HasSuffix(name, ".comp"):
		return "comp", true
	default:
		return "", false
	}
}

// recompileShader compiles "<shaderDir>/<base>.glsl" into
// "<shaderDir>/<base>.spv" via glslc, where base is the file name
// without its .glsl extension (e.g. "Shadow.vert").
func recompileShader(base string) error {
	stage, ok := glslStageFlag(base)
	if !ok {
		return fmt.Errorf("shader hot-reload: %s has no recognized stage suffix", base)
	}
	vkSDKPath := os.Getenv("VULKAN_SDK")
	glslc := filepath.Join(vkSDKPath, "bin", "glslc")
	src := filepath.Join(shaderDir, base+".glsl")
	dst := filepath.Join(shaderDir, base+".spv")
	cmd := exec.Command(glslc, fmt.Sprintf("-fshader-stage=%s", stage), src, "-o", dst)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("glslc %s: %w: %s", src, err, out)
	}
	return nil
}

// RecompileStaleShaders walks shaderDir once at startup and recompiles
// every .glsl source whose .spv sibling is missing or older, the
// baseline pass RendererConfig.ShaderRecompilation's startup behavior
// (spec.md §6.5) requires before watching begins.
func RecompileStaleShaders() error {
	entries, err := os.ReadDir(shaderDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".glsl") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".glsl")
		srcInfo, err := e.Info()
		if err != nil {
			return err
		}
		dstInfo, err := os.Stat(filepath.Join(shaderDir, base+".spv"))
		if err == nil && !srcInfo.ModTime().After(dstInfo.ModTime()) {
			continue
		}
		if err := recompileShader(base); err != nil {
			return err
		}
	}
	return nil
}

// NewShaderHotReloader starts watching shaderDir for .glsl writes. Call
// RecompileStaleShaders first to catch up on any edits made while the
// process wasn't running; this only reacts to writes from here on.
func NewShaderHotReloader() (*ShaderHotReloader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(shaderDir); err != nil {
		w.Close()
		return nil, err
	}
	r := &ShaderHotReloader{watcher: w, done: make(chan struct{})}
	go r.run()
	return r, nil
}

func (r *ShaderHotReloader) run() {
	for {
		select {
		case e, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(e.Name, ".glsl") {
				continue
			}
			base := strings.TrimSuffix(filepath.Base(e.Name), ".glsl")
			if err := recompileShader(base); err != nil {
				fmt.Fprintf(os.Stderr, "shader hot-reload: %v\n", err)
			}
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		case <-r.done:
			return
		}
	}
}

// Close stops watching. FrameOrchestrator should check for freshly
// recompiled modules before its next pipeline-recreation point rather
// than reloading pipelines from inside the watcher goroutine.
func (r *ShaderHotReloader) Close() error {
	close(r.done)
	return r.watcher.Close()
}
