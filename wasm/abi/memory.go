package abi

import (
	"github.com/tetratelabs/wazero/api"
)

// ReadBytes copies length bytes at ptr out of guest memory.
func ReadBytes(mem api.Memory, ptr, length uint32) ([]byte, Errno) {
	if length == 0 {
		return []byte{}, Success
	}
	b, ok := mem.Read(ptr, length)
	if !ok {
		return nil, ErrnoFault
	}
	return append([]byte(nil), b...), Success
}

func ReadString(mem api.Memory, ptr, length uint32) (string, Errno) {
	b, errno := ReadBytes(mem, ptr, length)
	return string(b), errno
}

func WriteU32(mem api.Memory, ptr, v uint32) Errno {
	if !mem.WriteUint32Le(ptr, v) {
		return ErrnoFault
	}
	return Success
}

func WriteU64(mem api.Memory, ptr uint32, v uint64) Errno {
	if !mem.WriteUint64Le(ptr, v) {
		return ErrnoFault
	}
	return Success
}

// CheckBuffer 确认 [ptr, ptr+capacity) 和 lenPtr 处的长度字都在 guest 内存内。
// 会消费数据的读取必须先检查，否则越界时数据已经读出却无处可写。
func CheckBuffer(mem api.Memory, ptr, capacity, lenPtr uint32) Errno {
	if _, ok := mem.Read(lenPtr, 4); !ok {
		return ErrnoFault
	}
	if _, ok := mem.Read(ptr, capacity); !ok {
		return ErrnoFault
	}
	return Success
}

// WriteBuffer 把 data 写入 guest 缓冲区 [ptr, ptr+capacity)，并把长度写到 lenPtr。
// 缓冲区不足时只写长度并返回 ErrnoRange，guest 可以按该长度重试。
func WriteBuffer(mem api.Memory, data []byte, ptr, capacity, lenPtr uint32) Errno {
	if errno := WriteU32(mem, lenPtr, uint32(len(data))); errno != Success {
		return errno
	}
	if uint32(len(data)) > capacity {
		return ErrnoRange
	}
	if len(data) > 0 && !mem.Write(ptr, data) {
		return ErrnoFault
	}
	return Success
}
