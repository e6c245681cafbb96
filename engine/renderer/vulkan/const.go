package vulkan

/**
 * @brief Number of combined image sampler sets per descriptor pool. A full
 * pool is kept and a new one is created next to it.
 */
const VULKAN_DESCRIPTOR_POOL_SETS uint32 = 64

/** @brief Binding of the combined image sampler in the texture set layout. */
const VULKAN_TEXTURE_SAMPLER_BINDING uint32 = 0
