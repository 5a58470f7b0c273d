package vulkan

import (
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

// The directory holds the GLSL sources and, once `mage shaders` ran, the
// SPIR-V modules compiled from them.
//
//go:embed shaders
var embedded embed.FS

const spirvMagic = 0x07230203

// shaderNames returns the vertex and fragment module names of a pipeline
// type. An empty fragment name means a depth-only pipeline.
func shaderNames(kind gpu.PipelineType) (vert, frag string) {
	switch kind {
	case gpu.PipelineShadowMapper:
		return "shadow-mapper.vert.spv", ""
	case gpu.PipelineGBuffer, gpu.PipelineTransparentPBR, gpu.PipelineUnlit:
		return "geometry.vert.spv", kind.String() + ".frag.spv"
	default:
		return "fullscreen.vert.spv", kind.String() + ".frag.spv"
	}
}

// parseSPIRV validates a SPIR-V binary and returns its words.
func parseSPIRV(name string, data []byte) ([]uint32, error) {
	if len(data) < 20 || len(data)%4 != 0 {
		return nil, fmt.Errorf("shader %s: %d bytes is not a SPIR-V module: %w", name, len(data), core.ErrPipelineCompileFailure)
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("shader %s: bad magic %#08x: %w", name, words[0], core.ErrPipelineCompileFailure)
	}
	return words, nil
}

// readShader reads a module from cfg.ShaderDir when set, else from the
// binary.
func (d *Device) readShader(name string) ([]byte, error) {
	var data []byte
	var err error
	var where string
	if d.cfg.ShaderDir != "" {
		where = filepath.Join(d.cfg.ShaderDir, name)
		data, err = os.ReadFile(where)
	} else {
		where = path.Join("shaders", name)
		data, err = embedded.ReadFile(where)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("shader %s missing, run `mage shaders`: %w", where, core.ErrPipelineCompileFailure)
	}
	if err != nil {
		return nil, fmt.Errorf("read shader %s: %v: %w", where, err, core.ErrIO)
	}
	return data, nil
}

func (d *Device) loadShader(name string) (vk.ShaderModule, error) {
	data, err := d.readShader(name)
	if err != nil {
		return vk.NullShaderModule, err
	}
	code, err := parseSPIRV(name, data)
	if err != nil {
		return vk.NullShaderModule, err
	}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(data)),
		PCode:    code,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(d.logical, &info, nil, &module); res != vk.Success {
		return vk.NullShaderModule, fmt.Errorf("create shader module %s: %s: %w", name, resultString(res, true), core.ErrPipelineCompileFailure)
	}
	return module, nil
}
