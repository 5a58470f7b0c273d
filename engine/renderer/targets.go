package renderer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// sceneTargets are the size-dependent images of one game scene and the
// framebuffers and input sets built over them.
type sceneTargets struct {
	sceneID uint64
	extent  gpu.Extent
	tag     string

	albedo, normal, position, emissive, depth gpu.Image
	ssao, accumulation, color                 gpu.Image
	shadowMap                                 gpu.Image
	shadowArray                               gpu.ImageView
	shadowLayers                              []gpu.ImageView

	gbuffer, ssaoFB, accumulateFB, deferredFB, transparentFB gpu.Framebuffer
	shadowFBs                                                []gpu.Framebuffer

	ssaoInputs, accumulateInputs, deferredInputs, toneMapInputs gpu.DescriptorSet
	// sky is the cube the deferred inputs sample.
	sky *metadata.Texture

	owned []func()
}

type targetConfig struct {
	extent       gpu.Extent
	shadowSize   uint32
	shadowLayers uint32
	sky          *metadata.Texture
}

func newSceneTargets(ctx *gpu.Context, c *chain, sceneID uint64, cfg targetConfig) (*sceneTargets, error) {
	t := &sceneTargets{
		sceneID: sceneID,
		extent:  cfg.extent,
		tag:     uuid.NewString()[:8],
	}
	if err := t.build(ctx, c, cfg); err != nil {
		t.destroy()
		return nil, fmt.Errorf("render targets of scene %d: %w", sceneID, err)
	}
	return t, nil
}

func (t *sceneTargets) own(destroy func()) {
	t.owned = append(t.owned, destroy)
}

func (t *sceneTargets) image(dev gpu.Device, what string, format gpu.Format, extent gpu.Extent, layers uint32) (gpu.Image, error) {
	usage := gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc
	if format.IsDepth() {
		usage |= gpu.ImageUsageDepthAttachment
	} else {
		usage |= gpu.ImageUsageColorAttachment
	}
	img, err := dev.CreateImage(gpu.ImageDesc{
		Name:      fmt.Sprintf("scene-%d-%s-%s", t.sceneID, what, t.tag),
		Extent:    extent,
		Format:    format,
		Usage:     usage,
		MipLevels: 1,
		Layers:    layers,
	})
	if err != nil {
		return nil, err
	}
	t.own(img.Destroy)
	return img, nil
}

func (t *sceneTargets) framebuffer(dev gpu.Device, pass gpu.RenderPass, extent gpu.Extent, images ...gpu.Image) (gpu.Framebuffer, error) {
	views := make([]gpu.ImageView, len(images))
	for i, img := range images {
		views[i] = img.View()
	}
	return t.framebufferOf(dev, pass, extent, views...)
}

func (t *sceneTargets) framebufferOf(dev gpu.Device, pass gpu.RenderPass, extent gpu.Extent, views ...gpu.ImageView) (gpu.Framebuffer, error) {
	fb, err := dev.CreateFramebuffer(pass, views, extent)
	if err != nil {
		return nil, err
	}
	t.own(fb.Destroy)
	return fb, nil
}

func (t *sceneTargets) inputs(ctx *gpu.Context, kind gpu.PipelineType, views ...gpu.ImageView) (gpu.DescriptorSet, error) {
	writes := make([]gpu.DescriptorWrite, len(views))
	for i, v := range views {
		writes[i] = gpu.DescriptorWrite{Binding: uint32(i), View: v, Sampler: ctx.Nearest}
	}
	ds, err := ctx.Device.CreateDescriptorSet(gpu.InputSetLayout(kind), writes)
	if err != nil {
		return nil, err
	}
	t.own(ds.Destroy)
	return ds, nil
}

func (t *sceneTargets) build(ctx *gpu.Context, c *chain, cfg targetConfig) error {
	dev := ctx.Device
	var err error
	e := cfg.extent
	images := []struct {
		dst    *gpu.Image
		what   string
		format gpu.Format
	}{
		{&t.albedo, "albedo", albedoFormat},
		{&t.normal, "normal", normalFormat},
		{&t.position, "position", positionFormat},
		{&t.emissive, "emissive", emissiveFormat},
		{&t.depth, "depth", dev.Limits().DepthFormat},
		{&t.ssao, "ssao", ssaoFormat},
		{&t.accumulation, "shadow-accumulation", lightFormat},
		{&t.color, "scene-color", lightFormat},
	}
	for _, a := range images {
		if *a.dst, err = t.image(dev, a.what, a.format, e, 1); err != nil {
			return err
		}
	}

	size := gpu.Extent{Width: cfg.shadowSize, Height: cfg.shadowSize}
	if t.shadowMap, err = t.image(dev, "shadow-map", shadowFormat, size, cfg.shadowLayers); err != nil {
		return err
	}
	if t.shadowArray, err = dev.CreateImageView(t.shadowMap, gpu.ImageViewDesc{
		Type: gpu.View2DArray, MipCount: 1, LayerCount: cfg.shadowLayers,
	}); err != nil {
		return err
	}
	t.own(t.shadowArray.Destroy)
	for layer := uint32(0); layer < cfg.shadowLayers; layer++ {
		v, err := dev.CreateImageView(t.shadowMap, gpu.ImageViewDesc{
			Type: gpu.View2D, MipCount: 1, BaseLayer: layer, LayerCount: 1,
		})
		if err != nil {
			return err
		}
		t.own(v.Destroy)
		t.shadowLayers = append(t.shadowLayers, v)
		fb, err := t.framebufferOf(dev, c.shadow.pass, size, v)
		if err != nil {
			return err
		}
		t.shadowFBs = append(t.shadowFBs, fb)
	}

	if t.gbuffer, err = t.framebuffer(dev, c.gbuffer.pass, e, t.albedo, t.normal, t.position, t.emissive, t.depth); err != nil {
		return err
	}
	if t.ssaoFB, err = t.framebuffer(dev, c.ssao.pass, e, t.ssao); err != nil {
		return err
	}
	if t.accumulateFB, err = t.framebuffer(dev, c.accumulate.pass, e, t.accumulation); err != nil {
		return err
	}
	if t.deferredFB, err = t.framebuffer(dev, c.deferred.pass, e, t.color); err != nil {
		return err
	}
	if t.transparentFB, err = t.framebuffer(dev, c.transparent.pass, e, t.color, t.depth); err != nil {
		return err
	}

	// sampled before any pass may have written them
	for _, img := range []gpu.Image{t.shadowMap, t.ssao} {
		if err := ctx.Transition(img, gpu.LayoutUndefined, gpu.LayoutShaderReadOnly); err != nil {
			return err
		}
	}

	if t.ssaoInputs, err = t.inputs(ctx, gpu.PipelineSSAO, t.normal.View(), t.position.View()); err != nil {
		return err
	}
	if t.accumulateInputs, err = t.inputs(ctx, gpu.PipelineShadowAccumulatorDirectional,
		t.normal.View(), t.position.View(), t.shadowArray); err != nil {
		return err
	}
	if t.toneMapInputs, err = t.inputs(ctx, gpu.PipelineToneMap, t.color.View()); err != nil {
		return err
	}
	ds, err := t.deferredSet(ctx, cfg.sky)
	if err != nil {
		return err
	}
	t.deferredInputs, t.sky = ds, cfg.sky
	return nil
}

func (t *sceneTargets) deferredSet(ctx *gpu.Context, sky *metadata.Texture) (gpu.DescriptorSet, error) {
	writes := []gpu.DescriptorWrite{
		{Binding: gpu.InputAlbedo, View: t.albedo.View(), Sampler: ctx.Nearest},
		{Binding: gpu.InputNormal, View: t.normal.View(), Sampler: ctx.Nearest},
		{Binding: gpu.InputPosition, View: t.position.View(), Sampler: ctx.Nearest},
		{Binding: gpu.InputEmissive, View: t.emissive.View(), Sampler: ctx.Nearest},
		{Binding: gpu.InputSSAO, View: t.ssao.View(), Sampler: ctx.Nearest},
		{Binding: gpu.InputShadow, View: t.accumulation.View(), Sampler: ctx.Nearest},
		{Binding: gpu.InputSkybox, View: sky.View, Sampler: sky.Sampler},
	}
	return ctx.Device.CreateDescriptorSet(gpu.InputSetLayout(gpu.PipelineDeferred), writes)
}

// setSky points the deferred inputs at sky. The replaced set is released
// once no frame in flight can use it.
func (t *sceneTargets) setSky(ctx *gpu.Context, sky *metadata.Texture) error {
	if sky == t.sky {
		return nil
	}
	ds, err := t.deferredSet(ctx, sky)
	if err != nil {
		return err
	}
	old := t.deferredInputs
	ctx.Release(fmt.Sprintf("deferred inputs of scene %d", t.sceneID), old.Destroy)
	t.deferredInputs, t.sky = ds, sky
	return nil
}

// destroy releases everything at once. The device must be idle.
func (t *sceneTargets) destroy() {
	if t.deferredInputs != nil {
		t.deferredInputs.Destroy()
		t.deferredInputs = nil
	}
	for i := len(t.owned) - 1; i >= 0; i-- {
		t.owned[i]()
	}
	t.owned = nil
}

// release hands destroy to the deletion queue.
func (t *sceneTargets) release(ctx *gpu.Context) {
	ctx.Release(fmt.Sprintf("render targets of scene %d", t.sceneID), t.destroy)
}
