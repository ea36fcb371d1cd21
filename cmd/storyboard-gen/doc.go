// storyboard-gen 是分镜图片生成的命令行入口。
//
// 支持单张生成（generate）、按清单批量生成（batch，含 --watch 热重载
// 迭代模式）以及接口配置探测（validate）。
package main
