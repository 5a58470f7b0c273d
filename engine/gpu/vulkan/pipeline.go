package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/math"
)

type pipeline struct {
	dev    *Device
	kind   gpu.PipelineType
	passID uint64
	layout vk.PipelineLayout
	handle vk.Pipeline
	push   uint32
}

// vertexAttributes describes math.Vertex3D: position, normal, tangent, uv.
func vertexAttributes() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 12},
		{Location: 2, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 24},
		{Location: 3, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: 40},
	}
}

const pushStages = vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)

func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	if desc.RenderPass == nil {
		return nil, fmt.Errorf("pipeline %s without render pass: %w", desc.Type, core.ErrInvalidState)
	}
	rp := desc.RenderPass.(*renderPass)
	p := &pipeline{dev: d, kind: desc.Type, passID: rp.id, push: desc.PushConstantSize}

	setLayouts := make([]vk.DescriptorSetLayout, len(desc.SetLayouts))
	for i, l := range desc.SetLayouts {
		vl, err := d.descriptors.layout(l)
		if err != nil {
			return nil, err
		}
		setLayouts[i] = vl
	}
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if desc.PushConstantSize > 0 {
		layoutInfo.PushConstantRangeCount = 1
		layoutInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: pushStages,
			Offset:     0,
			Size:       desc.PushConstantSize,
		}}
	}
	if err := check(vk.CreatePipelineLayout(d.logical, &layoutInfo, nil, &p.layout), "create pipeline layout"); err != nil {
		return nil, err
	}

	vertName, fragName := shaderNames(desc.Type)
	var modules []vk.ShaderModule
	defer func() {
		for _, m := range modules {
			vk.DestroyShaderModule(d.logical, m, nil)
		}
	}()
	var stages []vk.PipelineShaderStageCreateInfo
	for _, s := range []struct {
		name  string
		stage vk.ShaderStageFlagBits
	}{{vertName, vk.ShaderStageVertexBit}, {fragName, vk.ShaderStageFragmentBit}} {
		if s.name == "" {
			continue
		}
		m, err := d.loadShader(s.name)
		if err != nil {
			p.Destroy()
			return nil, fmt.Errorf("pipeline %s: %w", desc.Type, err)
		}
		modules = append(modules, m)
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  s.stage,
			Module: m,
			PName:  safeString("main"),
		})
	}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if desc.VertexInput {
		attributes := vertexAttributes()
		vertexInput.VertexBindingDescriptionCount = 1
		vertexInput.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    math.VertexSize,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInput.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInput.PVertexAttributeDescriptions = attributes
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}
	// Viewport and scissor are dynamic; only the counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                toCullMode(desc.Cull),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		// Equal depths pass so later passes can test against the g-buffer depth.
		depthStencil.DepthCompareOp = vk.CompareOpLessOrEqual
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blends := make([]vk.PipelineColorBlendAttachmentState, len(rp.desc.Colors))
	for i := range blends {
		blends[i] = blendState(desc.Blend)
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blends)),
		PAttachments:    blends,
	}
	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamic,
		Layout:              p.layout,
		RenderPass:          rp.handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	handles := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(d.logical, d.pipelineCache, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, handles)
	if res != vk.Success {
		p.Destroy()
		return nil, fmt.Errorf("create %s pipeline: %s: %w", desc.Type, resultString(res, true), core.ErrPipelineCompileFailure)
	}
	p.handle = handles[0]
	core.LogDebug("pipeline %s created for render pass %s", desc.Type, rp.desc.Name)
	return p, nil
}

func (p *pipeline) Type() gpu.PipelineType { return p.kind }
func (p *pipeline) RenderPassID() uint64   { return p.passID }

func (p *pipeline) Destroy() {
	if p.handle != vk.NullPipeline {
		vk.DestroyPipeline(p.dev.logical, p.handle, nil)
		p.handle = vk.NullPipeline
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(p.dev.logical, p.layout, nil)
		p.layout = vk.NullPipelineLayout
	}
}
