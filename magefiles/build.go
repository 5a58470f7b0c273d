//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"

	"github.com/spaghettifunk/prism/testbed"
)

const shaderDir = "engine/gpu/vulkan/shaders"

type Build mg.Namespace

// Compiles every GLSL stage under the vulkan backend into SPIR-V modules
// that the backend embeds.
func (Build) Shaders() error {
	return buildShaders()
}

// Writes the sample world container into the working directory, unless one
// is already there.
func (Build) Data() error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	written, err := testbed.EnsureWorld(wd)
	if err != nil {
		return err
	}
	if !written {
		fmt.Println("data.gx3d already present, left untouched")
	}
	return nil
}

// Builds the prism binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/prism", "."), withStream())
	return err
}

func buildShaders() error {
	var sources []string
	for _, ext := range []string{"*.vert", "*.frag"} {
		matches, err := filepath.Glob(filepath.Join(shaderDir, ext))
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shader sources under %s", shaderDir)
	}
	for _, src := range sources {
		name := filepath.Base(src)
		if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", "-I", ".", name, "-o", name+".spv"), withDir(shaderDir), withStream()); err != nil {
			return err
		}
	}
	return nil
}
