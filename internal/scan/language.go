package scan

var codeExts = []string{
	".go", ".py", ".rb", ".js", ".jsx", ".ts", ".tsx", ".java", ".c", ".h",
	".cpp", ".cc", ".hpp", ".cs", ".rs", ".php", ".swift", ".kt", ".scala",
	".sh", ".bash", ".sql", ".html", ".css", ".scss", ".json", ".yaml",
	".yml", ".toml", ".xml", ".md", ".proto", ".tf",
}

var extLanguage = map[string]string{
	".go":    "go",
	".py":    "python",
	".rb":    "ruby",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rs":    "rust",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".md":    "markdown",
	".proto": "protobuf",
	".tf":    "terraform",
}

// LanguageForExt maps a lowercased extension to a language tag; unknown
// extensions yield "".
func LanguageForExt(ext string) string { return extLanguage[ext] }
