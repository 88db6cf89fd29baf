// 包 version：构建信息；发布构建通过 -ldflags "-X map-api/internal/version.Commit=<sha>" 注入
package version

var Commit = "dev"
