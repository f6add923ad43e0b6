// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// halPipelines holds the shader modules, layouts, and pipelines of one
// HAL device.
type halPipelines struct {
	pointsShader   hal.ShaderModule
	colormapShader hal.ShaderModule
	gridShader     hal.ShaderModule

	pointsLayout   hal.BindGroupLayout
	colormapLayout hal.BindGroupLayout
	gridLayout     hal.BindGroupLayout

	pointsPipeLayout   hal.PipelineLayout
	colormapPipeLayout hal.PipelineLayout
	gridPipeLayout     hal.PipelineLayout

	direct    hal.RenderPipeline
	instanced hal.RenderPipeline
	colormap  hal.ComputePipeline
	grid      hal.RenderPipeline
}

// additiveBlend sums premultiplied coverage from overlapping points.
var additiveBlend = gputypes.BlendState{
	Color: gputypes.BlendComponent{
		SrcFactor: gputypes.BlendFactorOne,
		DstFactor: gputypes.BlendFactorOne,
		Operation: gputypes.BlendOperationAdd,
	},
	Alpha: gputypes.BlendComponent{
		SrcFactor: gputypes.BlendFactorOne,
		DstFactor: gputypes.BlendFactorOne,
		Operation: gputypes.BlendOperationAdd,
	},
}

func newHALPipelines(device hal.Device) (*halPipelines, error) {
	p := &halPipelines{}
	if err := p.build(device); err != nil {
		p.destroy(device)
		return nil, err
	}
	return p, nil
}

func (p *halPipelines) build(device hal.Device) error {
	var err error
	if p.pointsShader, err = shaderModule(device, "points", pointsShaderSource); err != nil {
		return err
	}
	if p.colormapShader, err = shaderModule(device, "colormap", colormapShaderSource); err != nil {
		return err
	}
	if p.gridShader, err = shaderModule(device, "grid", gridShaderSource); err != nil {
		return err
	}

	p.pointsLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "points_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			uniformEntry(0, gputypes.ShaderStageVertex|gputypes.ShaderStageFragment),
		},
	})
	if err != nil {
		return fmt.Errorf("create points bind group layout: %w", err)
	}
	p.colormapLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "colormap_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			uniformEntry(0, gputypes.ShaderStageCompute),
			storageEntry(1, gputypes.ShaderStageCompute, gputypes.BufferBindingTypeReadOnlyStorage),
			storageEntry(2, gputypes.ShaderStageCompute, gputypes.BufferBindingTypeReadOnlyStorage),
			storageEntry(3, gputypes.ShaderStageCompute, gputypes.BufferBindingTypeStorage),
		},
	})
	if err != nil {
		return fmt.Errorf("create colormap bind group layout: %w", err)
	}
	p.gridLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "grid_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			uniformEntry(0, gputypes.ShaderStageFragment),
			storageEntry(1, gputypes.ShaderStageFragment, gputypes.BufferBindingTypeReadOnlyStorage),
		},
	})
	if err != nil {
		return fmt.Errorf("create grid bind group layout: %w", err)
	}

	if p.pointsPipeLayout, err = pipelineLayout(device, "points", p.pointsLayout); err != nil {
		return err
	}
	if p.colormapPipeLayout, err = pipelineLayout(device, "colormap", p.colormapLayout); err != nil {
		return err
	}
	if p.gridPipeLayout, err = pipelineLayout(device, "grid", p.gridLayout); err != nil {
		return err
	}

	directLayout := []gputypes.VertexBufferLayout{{
		ArrayStride: directVertexStride,
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes: []gputypes.VertexAttribute{
			{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
			{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
		},
	}}
	if p.direct, err = pointsPipeline(device, "direct", p, "vs_direct", directLayout); err != nil {
		return err
	}
	instancedLayout := []gputypes.VertexBufferLayout{{
		ArrayStride: instanceStride,
		StepMode:    gputypes.VertexStepModeInstance,
		Attributes: []gputypes.VertexAttribute{
			{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
		},
	}}
	if p.instanced, err = pointsPipeline(device, "instanced", p, "vs_instanced", instancedLayout); err != nil {
		return err
	}

	p.colormap, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "colormap_pipeline",
		Layout: p.colormapPipeLayout,
		Compute: hal.ComputeState{
			Module:     p.colormapShader,
			EntryPoint: "cs_main",
		},
	})
	if err != nil {
		return fmt.Errorf("create colormap pipeline: %w", err)
	}

	p.grid, err = device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "grid_pipeline",
		Layout: p.gridPipeLayout,
		Vertex: hal.VertexState{
			Module:     p.gridShader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     p.gridShader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    gputypes.TextureFormatRGBA8Unorm,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("create grid pipeline: %w", err)
	}
	return nil
}

// destroy releases everything in reverse creation order. Missing
// resources are skipped, so it is safe after a partial build.
func (p *halPipelines) destroy(device hal.Device) {
	for _, rp := range []hal.RenderPipeline{p.grid, p.instanced, p.direct} {
		if rp != nil {
			device.DestroyRenderPipeline(rp)
		}
	}
	if p.colormap != nil {
		device.DestroyComputePipeline(p.colormap)
	}
	for _, pl := range []hal.PipelineLayout{p.gridPipeLayout, p.colormapPipeLayout, p.pointsPipeLayout} {
		if pl != nil {
			device.DestroyPipelineLayout(pl)
		}
	}
	for _, bl := range []hal.BindGroupLayout{p.gridLayout, p.colormapLayout, p.pointsLayout} {
		if bl != nil {
			device.DestroyBindGroupLayout(bl)
		}
	}
	for _, sm := range []hal.ShaderModule{p.gridShader, p.colormapShader, p.pointsShader} {
		if sm != nil {
			device.DestroyShaderModule(sm)
		}
	}
	*p = halPipelines{}
}

func shaderModule(device hal.Device, label, source string) (hal.ShaderModule, error) {
	spirv, err := compileSPIRV(label, source)
	if err != nil {
		return nil, err
	}
	sm, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label + "_shader",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("create %s shader module: %w", label, err)
	}
	return sm, nil
}

func pipelineLayout(device hal.Device, label string, layout hal.BindGroupLayout) (hal.PipelineLayout, error) {
	pl, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{layout},
	})
	if err != nil {
		return nil, fmt.Errorf("create %s pipeline layout: %w", label, err)
	}
	return pl, nil
}

func pointsPipeline(device hal.Device, label string, p *halPipelines, entry string, buffers []gputypes.VertexBufferLayout) (hal.RenderPipeline, error) {
	rp, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  label + "_points_pipeline",
		Layout: p.pointsPipeLayout,
		Vertex: hal.VertexState{
			Module:     p.pointsShader,
			EntryPoint: entry,
			Buffers:    buffers,
		},
		Fragment: &hal.FragmentState{
			Module:     p.pointsShader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    gputypes.TextureFormatRGBA8Unorm,
				Blend:     &additiveBlend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return nil, fmt.Errorf("create %s points pipeline: %w", label, err)
	}
	return rp, nil
}

func uniformEntry(binding uint32, stages gputypes.ShaderStages) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: stages,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
}

func storageEntry(binding uint32, stages gputypes.ShaderStages, kind gputypes.BufferBindingType) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: stages,
		Buffer:     &gputypes.BufferBindingLayout{Type: kind},
	}
}
