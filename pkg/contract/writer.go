package contract

import (
	"context"
	"io"
)

// ArtifactID: 持久化工件标识（输出文件相对路径或部署目标内的对象名）。
type ArtifactID = ModuleID

// Writer: 将打包结果以流式方式持久化到目标介质（文件系统/对象存储/推送通道）。
// 部署协作方同样实现本接口：只接收字节与目标标识。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传，不读取/修改内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
