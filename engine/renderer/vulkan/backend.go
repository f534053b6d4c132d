package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/nullforge/aurora/engine/config"
	"github.com/nullforge/aurora/engine/core"
	"github.com/nullforge/aurora/engine/math"
	"github.com/nullforge/aurora/engine/platform"
)

// rendererConfigPath is where VulkanRenderer.Initialize looks for the
// render graph's tunables (assets/config/renderer.toml). Falls back to
// config.DefaultRendererConfig() if the file is missing or invalid.
const rendererConfigPath = "assets/config/renderer.toml"

type VulkanRenderer struct {
	platform                *platform.Platform
	FrameNumber             uint64
	context                 *VulkanContext
	cachedFramebufferWidth  uint32
	cachedFramebufferHeight uint32

	debug bool
}

func New(p *platform.Platform) *VulkanRenderer {
	return &VulkanRenderer{
		platform:    p,
		FrameNumber: 0,
		context: &VulkanContext{
			FramebufferWidth:  0,
			FramebufferHeight: 0,
			Allocator:         nil,
		},
		cachedFramebufferWidth:  0,
		cachedFramebufferHeight: 0,
		debug:                   true,
	}
}

func (vr VulkanRenderer) Initialize(appName string, appWidth, appHeight uint32) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		core.LogFatal("GetInstanceProcAddress is nil")
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogFatal("failed to initialize vk: %s", err)
		return err
	}

	// TODO: custom allocator.
	vr.context.Allocator = nil

	vr.cachedFramebufferWidth = appWidth
	vr.cachedFramebufferHeight = appHeight

	if vr.cachedFramebufferWidth != 0 {
		vr.context.FramebufferWidth = vr.cachedFramebufferWidth
	}

	if vr.cachedFramebufferHeight != 0 {
		vr.context.FramebufferHeight = vr.cachedFramebufferHeight
	}

	vr.cachedFramebufferWidth = 0
	vr.cachedFramebufferHeight = 0

	// Setup Vulkan instance.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Aurora Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	required_extensions := []string{"VK_KHR_surface"} // Generic surface extension
	en := vr.platform.GetRequiredExtensionNames()
	required_extensions = append(required_extensions, en...)

	if runtime.GOOS == "darwin" {
		required_extensions = append(required_extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
	}

	if vr.debug {
		required_extensions = append(required_extensions, vk.ExtDebugUtilsExtensionName, vk.ExtDebugReportExtensionName) // debug utilities
		core.LogInfo("Required extensions:")
		for i := 0; i < len(required_extensions); i++ {
			core.LogInfo(required_extensions[i])
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(required_extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(required_extensions)

	// Validation layers.
	required_validation_layer_names := []string{}
	// var required_validation_layer_count uint32 = 0

	// If validation should be done, get a list of the required validation layert names
	// and make sure they exist. Validation layers should only be enabled on non-release builds.
	if vr.debug {
		core.LogInfo("Validation layers enabled. Enumerating...")

		// The list of validation layers required.
		required_validation_layer_names = []string{"VK_LAYER_KHRONOS_validation"}
		// required_validation_layer_count = uint32(len(required_validation_layer_names))

		if runtime.GOOS == "darwin" {
			createInfo.Flags |= 1
		}

		// Obtain a list of available validation layers
		var available_layer_count uint32
		if res := vk.EnumerateInstanceLayerProperties(&available_layer_count, nil); res != vk.Success {
			return nil
		}

		available_layers := make([]vk.LayerProperties, available_layer_count)
		if res := vk.EnumerateInstanceLayerProperties(&available_layer_count, available_layers); res != vk.Success {
			return nil
		}

		// Verify all required layers are available.
		for i := range required_validation_layer_names {
			core.LogInfo("Searching for layer: %s...", required_validation_layer_names[i])
			found := false
			for j := range available_layers {
				available_layers[j].Deref()
				core.LogInfo("Available Layer: `%s`", string(available_layers[j].LayerName[:]))
				end := FindFirstZeroInByteArray(available_layers[j].LayerName[:])
				if required_validation_layer_names[i] == vk.ToString(available_layers[j].LayerName[:end+1]) {
					found = true
					core.LogInfo("Found.")
					break
				}
			}

			if !found {
				core.LogFatal("Required validation layer is missing: %s", required_validation_layer_names[i])
				return nil
			}
		}
		core.LogInfo("All required validation layers are present.")
	}

	createInfo.EnabledLayerCount = uint32(len(required_validation_layer_names))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(required_validation_layer_names)

	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Vulkan Instance created.")

	// Debugger
	if vr.debug {
		core.LogDebug("Creating Vulkan debugger...")

		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportInformationBit),
			PfnCallback: dbgCallbackFunc,
			PNext:       nil,
		}

		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vr.context.debugMessenger = dbg

		core.LogDebug("Vulkan debugger created.")
	}

	// Surface
	core.LogDebug("Creating Vulkan surface...")
	surface := vr.createVulkanSurface()
	if surface == 0 {
		core.LogError("Failed to create platform surface!")
		return nil
	}
	vr.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	// Device creation
	if err := DeviceCreate(vr.context); err != nil {
		core.LogError("Failed to create device!")
		return nil
	}

	// Swapchain
	sc, err := SwapchainCreate(vr.context, vr.context.FramebufferWidth, vr.context.FramebufferHeight)
	if err != nil {
		return nil
	}
	vr.context.Swapchain = sc

	// Render graph. The passes below replace the single-renderpass
	// forward pipeline the teacher built here (one MainRenderpass plus a
	// swapchain-image-indexed command-buffer/fence/semaphore set) with
	// the deferred pipeline's own pass stack, each wired through the
	// cross-pass dependencies its own Build method requires.
	cfg, err := config.Load(rendererConfigPath)
	if err != nil {
		core.LogWarn("renderer config load failed (%s), using defaults", err.Error())
		cfg = config.DefaultRendererConfig()
	}

	maxVertices, maxIndices, maxMaterials, maxJointMatrices, maxWeights := cfg.Caps()
	caps := GlobalBuffersCaps{
		MaxVerticesBytes:      maxVertices,
		MaxIndicesBytes:       maxIndices,
		MaxMaterials:          maxMaterials,
		MaxJointMatricesBytes: maxJointMatrices,
		MaxWeightsBytes:       maxWeights,
		// Skinned output mirrors the static vertex layout, so it shares
		// the same byte ceiling rather than a separately configured one.
		MaxSkinnedVertexBytes: maxVertices,
	}

	globals, err := NewGlobalBuffers(vr.context, vr.context.Device.GraphicsCommandPool, vr.context.Device.GraphicsQueue, caps)
	if err != nil {
		return fmt.Errorf("global buffers: %w", err)
	}
	vr.context.Globals = globals

	textures, err := NewTextureCache(vr.context)
	if err != nil {
		return fmt.Errorf("texture cache: %w", err)
	}
	vr.context.Textures = textures

	shadow, err := NewShadowPass(vr.context, cfg.ShadowMapSize)
	if err != nil {
		return fmt.Errorf("shadow pass: %w", err)
	}
	if err := shadow.Build(globals.Materials, textures, MaxFramesInFlight); err != nil {
		return fmt.Errorf("shadow pass build: %w", err)
	}
	vr.context.Shadow = shadow

	scene, err := NewScenePass(vr.context, vr.context.FramebufferWidth, vr.context.FramebufferHeight)
	if err != nil {
		return fmt.Errorf("scene pass: %w", err)
	}
	if err := scene.Build(globals.Materials, textures, MaxFramesInFlight); err != nil {
		return fmt.Errorf("scene pass build: %w", err)
	}
	vr.context.Scene = scene

	lighting, err := NewLightingPass(vr.context, vr.context.FramebufferWidth, vr.context.FramebufferHeight, LightingConfig{
		ShadowPCF:    cfg.ShadowPCF,
		ShadowBias:   cfg.ShadowBias,
		ShadowDebug:  cfg.ShadowDebug,
		PointFalloff: cfg.PointLightFalloffScale,
	})
	if err != nil {
		return fmt.Errorf("lighting pass: %w", err)
	}
	if err := lighting.Build(scene, shadow, textures.Sampler(), MaxFramesInFlight); err != nil {
		return fmt.Errorf("lighting pass build: %w", err)
	}
	vr.context.Lighting = lighting

	post, err := NewPostPass(vr.context, vr.context.FramebufferWidth, vr.context.FramebufferHeight, cfg.FXAA)
	if err != nil {
		return fmt.Errorf("post pass: %w", err)
	}
	if err := post.Build(lighting.View(), textures.Sampler(), MaxFramesInFlight); err != nil {
		return fmt.Errorf("post pass build: %w", err)
	}
	vr.context.Post = post

	blit, err := NewSwapBlit(vr.context, vr.context.Swapchain)
	if err != nil {
		return fmt.Errorf("swap blit: %w", err)
	}
	if err := blit.Build(post.View(), textures.Sampler(), MaxFramesInFlight); err != nil {
		return fmt.Errorf("swap blit build: %w", err)
	}
	vr.context.Blit = blit

	orchestrator, err := NewFrameOrchestrator(vr.context, globals, shadow, scene, lighting, post, blit)
	if err != nil {
		return fmt.Errorf("frame orchestrator: %w", err)
	}
	vr.context.Frame = orchestrator

	vr.context.FrameState = SceneState{
		CameraView:    math.NewMat4Identity(),
		CameraProj:    math.NewMat4Identity(),
		ShadowMapSize: cfg.ShadowMapSize,
	}

	core.LogInfo("Vulkan renderer initialized successfully.")

	return nil
}

func (vr VulkanRenderer) Shutdow() error {
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	// Destroy in the opposite order of creation.
	if vr.context.Frame != nil {
		vr.context.Frame.Destroy()
	}
	if vr.context.Blit != nil {
		vr.context.Blit.Destroy()
	}
	if vr.context.Post != nil {
		vr.context.Post.Destroy()
	}
	if vr.context.Lighting != nil {
		vr.context.Lighting.Destroy()
	}
	if vr.context.Scene != nil {
		vr.context.Scene.Destroy()
	}
	if vr.context.Shadow != nil {
		vr.context.Shadow.Destroy()
	}
	if vr.context.Textures != nil {
		vr.context.Textures.Destroy()
	}
	if vr.context.Globals != nil {
		vr.context.Globals.Destroy()
	}

	// Swapchain
	vr.context.Swapchain.SwapchainDestroy(vr.context)

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(vr.context)

	core.LogDebug("Destroying Vulkan surface...")
	if vr.context.Surface != vk.NullSurface {
		vk.DestroySurface(vr.context.Instance, vr.context.Surface, vr.context.Allocator)
		vr.context.Surface = vk.NullSurface
	}

	if vr.debug {
		core.LogDebug("Destroying Vulkan debugger...")
		if vr.context.debugMessenger != vk.NullDebugReportCallback {
			vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, vr.context.Allocator)
		}
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)

	return nil
}

// Resized recreates the swapchain and every resize-dependent render-graph
// attachment synchronously. Unlike the teacher's version (which only
// bumped a generation counter for BeginFrame to notice on the next
// call), this runs the recreation immediately: BeginFrame/EndFrame no
// longer poll a generation counter, since FrameOrchestrator.DrawFrame's
// own swapchain acquire already reports a stale/out-of-date image by
// returning ok=false (handled by EndFrame as a skipped frame).
func (vr VulkanRenderer) Resized(width, height uint16) error {
	if width == 0 || height == 0 {
		core.LogDebug("vulkan renderer resized called with a zero dimension, ignoring")
		return nil
	}

	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	DeviceQuerySwapchainSupport(vr.context.Device.PhysicalDevice, vr.context.Surface, vr.context.Device.SwapchainSupport)
	DeviceDetectDepthFormat(vr.context.Device)

	sc, err := vr.context.Swapchain.SwapchainRecreate(vr.context, uint32(width), uint32(height))
	if err != nil {
		err := fmt.Errorf("swapchain recreate on resize failed: %w", err)
		core.LogError(err.Error())
		return err
	}
	vr.context.Swapchain = sc
	vr.context.FramebufferWidth = uint32(width)
	vr.context.FramebufferHeight = uint32(height)
	vr.context.FramebufferSizeGeneration++

	if vr.context.Frame != nil {
		if err := vr.context.Frame.Resize(uint32(width), uint32(height)); err != nil {
			err := fmt.Errorf("frame orchestrator resize failed: %w", err)
			core.LogError(err.Error())
			return err
		}
	}

	core.LogInfo("Vulkan renderer backend->resized: w/h/gen: %d/%d/%d", width, height, vr.context.FramebufferSizeGeneration)
	return nil
}

// BeginFrame is a thin timing hook: the actual per-frame recording and
// submission happens in EndFrame, since FrameOrchestrator.DrawFrame
// records and submits one complete frame in a single synchronous call
// rather than splitting across separate begin/end entry points the way
// the teacher's single-renderpass pipeline did.
func (vr VulkanRenderer) BeginFrame(deltaTime float64) error {
	vr.context.FrameDeltaTime = float32(deltaTime)
	return nil
}

// EndFrame drives FrameOrchestrator.DrawFrame using the renderer's
// current SceneState. Returns nil whether or not a frame was actually
// presented: a swapchain acquire miss (window being resized) is not an
// application-ending error, matching FrameOrchestrator.DrawFrame's own
// (false, nil) convention for a skipped frame.
func (vr VulkanRenderer) EndFrame(deltaTime float64) error {
	presented, err := vr.context.Frame.DrawFrame(FrameInputs{
		Entities:      vr.context.FrameState.Entities,
		Lights:        vr.context.FrameState.Lights,
		CameraView:    vr.context.FrameState.CameraView,
		CameraProj:    vr.context.FrameState.CameraProj,
		CameraPos:     vr.context.FrameState.CameraPos,
		Ambient:       vr.context.FrameState.Ambient,
		ShadowCamera:  vr.context.FrameState.ShadowCamera,
		ShadowMapSize: vr.context.FrameState.ShadowMapSize,
	})
	if err != nil {
		core.LogError("frame orchestrator draw frame failed: %s", err.Error())
		return err
	}
	if !presented {
		core.LogInfo("frame skipped (swapchain image acquire miss)")
	}
	return nil
}

// SetSceneState replaces the full per-frame scene description
// FrameOrchestrator.DrawFrame consumes and marks the entity set dirty so
// GlobalBuffers reloads its instance streams before the next frame.
func (vr VulkanRenderer) SetSceneState(state SceneState) {
	vr.context.FrameState = state
	if vr.context.Frame != nil {
		vr.context.Frame.MarkEntitiesDirty()
	}
}

func (vr VulkanRenderer) createVulkanSurface() uintptr {
	surface, err := vr.platform.Window.CreateWindowSurface(vr.context.Instance, nil)
	if err != nil {
		core.LogFatal("Vulkan surface creation failed.")
		return 0
	}
	return surface
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportInformationBit) != 0:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogInfo("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
