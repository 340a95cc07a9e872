package plugins

// Gallery is the explicit, compile-time-registered list of curated builtin
// plugins (REDESIGN FLAG, spec §9: never a directory/module scan). Each
// entry sets exactly one of InlineFiles, GitURL, or SourceDir, matching the
// "exactly one of these three per builtin definition" requirement in spec
// §4.H.
//
// AI Fast API is the Auto-Rotate Router's host plugin (spec §4.K); it ships
// as inline files so it is always installable offline.
//
// counter-template, ollama, and g4f-chat-template ship the same way, each
// self-contained enough to install with no network access beyond whatever
// their own install script fetches.
var Gallery = []GalleryEntry{
	{
		ID:          "ai-fast-api",
		Name:        "AI Fast API",
		Description: "Local OpenAI-compatible endpoint that rotates across configured backends.",
		InlineFiles: map[string]string{
			manifestFilename: `{
  "name": "AI Fast API",
  "description": "Local OpenAI-compatible endpoint that rotates across configured backends.",
  "icon": "shuffle",
  "version": "1.0.0",
  "start": "./aifastapi",
  "port": 8700
}
`,
		},
	},
	{
		ID:          "counter-template",
		Name:        "Counter App (Template)",
		Description: "Tiny starter plugin with FastAPI + HTML UI so you can verify install/launch quickly.",
		InlineFiles: map[string]string{
			manifestFilename: `{
  "name": "Counter App",
  "description": "Minimal FastAPI counter app template for plugin testing.",
  "icon": "hash",
  "version": "1.0.0",
  "start": "bash start.sh",
  "install": "bash install.sh",
  "requires": ["python"],
  "port": 8000,
  "env": {"PORT": "8000"}
}
`,
			"install.sh": "#!/bin/bash\nset -e\npython3 -m venv .venv\n.venv/bin/pip install --quiet fastapi uvicorn\n",
			"start.sh":   "#!/bin/bash\nexec .venv/bin/uvicorn app:app --host 0.0.0.0 --port ${PORT:-8000}\n",
			"app.py": `from fastapi import FastAPI
from fastapi.responses import HTMLResponse

app = FastAPI(title="PocketPaw Counter App", version="1.0.0")


@app.get("/health")
def health() -> dict[str, str]:
    return {"status": "ok"}


@app.get("/", response_class=HTMLResponse)
def index() -> str:
    return """<!doctype html>
<html>
  <head><title>Counter App</title></head>
  <body>
    <div id="value">0</div>
    <button onclick="n-=1;draw()">-1</button>
    <button onclick="n+=1;draw()">+1</button>
    <button onclick="n=0;draw()">Reset</button>
    <script>
      let n = 0;
      function draw(){ document.getElementById('value').textContent = String(n); }
      draw();
    </script>
  </body>
</html>"""
`,
		},
	},
	{
		ID:          "ollama",
		Name:        "Ollama (Built-in)",
		Description: "Run open-source LLMs locally — Llama, Mistral, Phi, and more. Self-contained 1-click install.",
		InlineFiles: map[string]string{
			manifestFilename: `{
  "name": "Ollama",
  "description": "Run open-source LLMs locally — Llama, Mistral, Phi, and more.",
  "icon": "brain",
  "version": "1.0.0",
  "start": "bash start.sh",
  "install": "bash install.sh",
  "requires": ["curl"],
  "port": 11434,
  "openapi": "openapi.json"
}
`,
			"install.sh": "#!/bin/bash\nset -e\ncurl -fsSL https://ollama.com/install.sh | sh\n",
			"start.sh": `#!/bin/bash
export OLLAMA_ORIGINS="*"
ollama serve &
SERVER_PID=$!
sleep 2
ollama pull qwen2.5:0.5b &
echo "Ollama is running on port 11434 (demo model is fetching in background)"
wait $SERVER_PID
`,
			"openapi.json": `{
  "openapi": "3.0.3",
  "info": {"title": "Ollama Local REST API", "version": "1.0.0"},
  "servers": [{"url": "http://localhost:11434"}],
  "paths": {
    "/api/tags": {"get": {"summary": "List models"}},
    "/api/generate": {"post": {"summary": "Generate a completion"}},
    "/api/chat": {"post": {"summary": "Generate a chat completion"}}
  }
}
`,
		},
	},
	{
		ID:          "g4f-chat-template",
		Name:        "Gf4 Chat (Template)",
		Description: "One-click template for the g4f GUI chat page. Runs locally and opens directly at /chat/.",
		InlineFiles: map[string]string{
			manifestFilename: `{
  "name": "Gf4 Chat",
  "description": "Standalone g4f web chat UI template. Installs g4f[gui] and serves /chat.",
  "icon": "message-circle",
  "version": "1.0.0",
  "start": "bash start.sh",
  "install": "bash install.sh",
  "requires": ["uv", "python"],
  "port": 8080,
  "env": {"PORT": "8080", "HOST": "0.0.0.0"}
}
`,
			"install.sh": "#!/bin/bash\nset -e\nuv venv .venv\nuv pip install --python .venv/bin/python 'g4f[gui]'\n",
			"start.sh":   "#!/bin/bash\nexec .venv/bin/python -m g4f.cli gui --port ${PORT:-8080} --host ${HOST:-0.0.0.0}\n",
		},
	},
}

// wan2gp is deliberately not registered here: upstream deepbeepmeep/Wan2GP
// carries no pocketpaw.json, and installBuiltin's GitURL path requires the
// cloned tree to already have one (cloneAndCopy) rather than overlaying a
// generated manifest the way the gallery's Python ancestor did. Wiring it
// would need that overlay step built first.

// FindGalleryEntry resolves a builtin:<id> install source to its registered
// entry.
func FindGalleryEntry(id string) (GalleryEntry, bool) {
	for _, g := range Gallery {
		if g.ID == id {
			return g, true
		}
	}
	return GalleryEntry{}, false
}
