package tensorrpc

// Well-known metadata keys used on envelope batches. These appear as
// custom_metadata on Arrow IPC RecordBatch messages.
const (
	MetaMethod         = "tensor_rpc.method"
	MetaRequestVersion = "tensor_rpc.request_version"
	MetaRequestID      = "tensor_rpc.request_id"
	MetaServerID       = "tensor_rpc.server_id"
	MetaPayloadCodec   = "tensor_rpc.payload_codec"
	MetaStatusCode     = "tensor_rpc.status_code"
	MetaErrorMessage   = "tensor_rpc.error_message"

	ProtocolVersion = "1"

	// payloadCodecZstd marks a zstd-compressed payload column.
	payloadCodecZstd = "zstd"
)
