//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the engine on the Vulkan backend.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "prism.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the engine without a window on the stub backend.
func (Run) Headless() error {
	_, err := executeCmd("go", withArgs("run", ".", "-config", "prism.toml", "-backend", "stub"), withStream())
	return err
}

type Test mg.Namespace

// Runs the unit tests. The stub backend covers the renderer without a GPU.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs the unit tests with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./engine/..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}

// Tidies the module and runs go vet.
func (Test) Lint() error {
	return goTidyVet()
}
