package webmonitor

import (
	"html/template"
	"io"

	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
	"github.com/dj-oyu/road-hazard-dashboard/internal/trend"
)

const logPlaceholder = "Monitoring_Active..."

type logView struct {
	ID      string
	Type    string
	Time    string
	Percent int
	Severe  bool
}

type pageData struct {
	State       dashboard.State
	APIBase     string
	ModelName   string
	Logs        []logView
	CameraLabel string
	ImageURL    template.URL
	Trend       trend.Summary
	Placeholder string
	ThemeURL    string
}

func newPageData(st dashboard.State, apiBase string, summary trend.Summary) pageData {
	st = cleanState(st)
	data := pageData{
		State:       st,
		APIBase:     apiBase,
		ModelName:   st.ModelName,
		Logs:        make([]logView, 0, len(st.Stats.Logs)),
		CameraLabel: "ENGAGE_LIVE",
		Trend:       summary,
		Placeholder: logPlaceholder,
	}
	if st.CameraActive {
		data.CameraLabel = "DISABLE_LIVE"
	}
	if st.Viewport == dashboard.ViewportStatic {
		// The controller only stores images the backend returned as valid base64
		data.ImageURL = template.URL("data:image/jpeg;base64," + st.UploadedImage)
	}
	for _, e := range st.Stats.Logs {
		data.Logs = append(data.Logs, logView{
			ID:      e.ID,
			Type:    e.Type,
			Time:    e.Time,
			Percent: e.ConfidencePercent(),
			Severe:  e.Severe(),
		})
	}
	return data
}

func renderPage(w io.Writer, data pageData) error {
	return pageTemplate.Execute(w, data)
}

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Road Hazard Dashboard</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin:0; background:#0b0f17; color:#cfe9ff; font-family: "JetBrains Mono", monospace; }
        .app { display:grid; grid-template-columns: 2fr 1fr; gap:16px; padding:16px; }
        .panel { background:#121826; border:1px solid #1f2a3d; border-radius:8px; padding:12px; }
        .viewport { position:relative; background:#000; min-height:360px; display:flex; align-items:center; justify-content:center; }
        .viewport img { width:100%; height:auto; display:block; }
        .badge { position:absolute; top:10px; left:10px; padding:4px 8px; background:rgba(255,0,0,0.8); color:#fff; font-size:12px; border-radius:4px; }
        .hidden { display:none !important; }
        .stats { display:grid; grid-template-columns: repeat(4, 1fr); gap:8px; margin-top:12px; }
        .stat { background:#0e1420; padding:8px; border-radius:6px; }
        .stat-label { font-size:11px; opacity:0.7; display:block; }
        .stat-value { font-size:24px; }
        .hazard-indicator { padding:6px 10px; border-radius:4px; background:#1d3b2a; color:#6f6; }
        .hazard-indicator.active { background:#5a1010; color:#ff6b6b; }
        .log-item { padding:6px 0; border-bottom:1px solid #1f2a3d; }
        .log-item.severe .log-type { color:#ff6b6b; }
        .bar { height:4px; background:#1f2a3d; border-radius:2px; }
        .bar-fill { height:4px; background:#00e5ff; border-radius:2px; }
        .log-item.severe .bar-fill { background:#ff3b30; }
        .muted { opacity:0.6; }
        button { background:#00e5ff; color:#000; border:0; padding:8px 12px; border-radius:4px; cursor:pointer; }
        .toggle.on { background:#34c759; }
        .toggle.off { background:#444; color:#ccc; }
    </style>
    {{- if .ThemeURL}}
    <link rel="stylesheet" href="{{.ThemeURL}}">
    {{- end}}
</head>
<body data-api-base="{{.APIBase}}">
<div class="app">
    <div class="panel">
        <div style="display:flex;justify-content:space-between;align-items:center;">
            <h2>Road Hazard Dashboard</h2>
            <span id="hazard-indicator" class="hazard-indicator{{if .State.HazardActive}} active{{end}}">{{if .State.HazardActive}}HAZARD DETECTED{{else}}ROAD CLEAR{{end}}</span>
        </div>
        <div class="viewport" id="viewport" data-mode="{{.State.Viewport}}">
            <span id="live-badge" class="badge{{if not .State.LiveIndicator}} hidden{{end}}">LIVE_FEED_ON</span>
            <img id="feed" alt="Video feed" src="{{if .ImageURL}}{{.ImageURL}}{{else}}{{.APIBase}}/video_feed{{end}}">
        </div>
        <div style="display:flex;gap:8px;margin-top:12px;">
            <button type="button" id="camera-btn">{{.CameraLabel}}</button>
            <input type="file" id="upload-input" accept="image/*">
            <button type="button" id="clear-btn"{{if not .ImageURL}} class="hidden"{{end}}>CLEAR_UPLOAD</button>
        </div>
        <div class="stats">
            <div class="stat"><span class="stat-label">Traffic Density</span><span class="stat-value" id="stat-vehicles">{{.State.Stats.Vehicles}}</span></div>
            <div class="stat"><span class="stat-label">Active Hazards</span><span class="stat-value" id="stat-hazards">{{.State.Stats.Hazards}}</span></div>
            <div class="stat"><span class="stat-label">Lifeforms Detected</span><span class="stat-value" id="stat-pedestrians">{{.State.Stats.Pedestrians}}</span></div>
            <div class="stat"><span class="stat-label">Speed (km/h)</span><span class="stat-value" id="stat-speed">{{printf "%.0f" .State.Stats.Speed}}</span></div>
        </div>
        <p class="muted" id="trend-line">Window: {{.Trend.Samples}} samples, mean speed {{printf "%.1f" .Trend.MeanSpeed}} km/h, peak vehicles {{.Trend.PeakVehicles}}</p>
    </div>

    <div>
        <div class="panel">
            <h3>Hazard Log</h3>
            <div id="log-list">
                {{- range .Logs}}
                <div class="log-item{{if .Severe}} severe{{end}}" data-id="{{.ID}}">
                    <div><span class="log-type">{{.Type}}</span> <span class="muted">{{.Time}}</span> <span>{{.Percent}}%</span></div>
                    <div class="bar"><div class="bar-fill" style="width: {{.Percent}}%"></div></div>
                </div>
                {{- else}}
                <p class="muted" id="log-placeholder">{{.Placeholder}}</p>
                {{- end}}
            </div>
        </div>
        <div class="panel" style="margin-top:16px;">
            <h3>Settings</h3>
            <div style="display:flex;flex-direction:column;gap:8px;">
                <div>Cloud Uplink <button type="button" class="toggle {{if .State.Settings.CloudRelay}}on{{else}}off{{end}}" id="setting-cloud_relay" data-setting="cloud_relay">{{if .State.Settings.CloudRelay}}ON{{else}}OFF{{end}}</button></div>
                <div>Sonic Feedback <button type="button" class="toggle {{if .State.Settings.AudioCues}}on{{else}}off{{end}}" id="setting-audio_cues" data-setting="audio_cues">{{if .State.Settings.AudioCues}}ON{{else}}OFF{{end}}</button></div>
                <div class="muted">Active Core: <span id="model-name">{{if .ModelName}}{{.ModelName}}{{else}}--{{end}}</span></div>
            </div>
        </div>
    </div>
</div>
<script>
(() => {
    const base = document.body.dataset.apiBase || '';
    const $ = (id) => document.getElementById(id);
    let viewport = $('viewport').dataset.mode;
    let shownImage = null;

    const post = (path, body) => fetch(base + path, { method: 'POST', body })
        .then((r) => r.json())
        .catch((err) => console.error('[Dashboard]', path, err));

    function renderLogs(logs) {
        const list = $('log-list');
        list.replaceChildren();
        if (!logs || logs.length === 0) {
            const p = document.createElement('p');
            p.className = 'muted';
            p.textContent = '{{.Placeholder}}';
            list.appendChild(p);
            return;
        }
        for (const log of logs) {
            const pct = Math.round(log.confidence * 100);
            const item = document.createElement('div');
            item.className = 'log-item' + (log.confidence > 0.8 ? ' severe' : '');
            const head = document.createElement('div');
            const type = document.createElement('span');
            type.className = 'log-type';
            type.textContent = log.type;
            const time = document.createElement('span');
            time.className = 'muted';
            time.textContent = ' ' + log.time + ' ';
            const conf = document.createElement('span');
            conf.textContent = pct + '%';
            head.append(type, time, conf);
            const bar = document.createElement('div');
            bar.className = 'bar';
            const fill = document.createElement('div');
            fill.className = 'bar-fill';
            fill.style.width = pct + '%';
            bar.appendChild(fill);
            item.append(head, bar);
            list.appendChild(item);
        }
    }

    function renderSetting(name, on) {
        const btn = $('setting-' + name);
        btn.className = 'toggle ' + (on ? 'on' : 'off');
        btn.textContent = on ? 'ON' : 'OFF';
    }

    function render(state) {
        $('stat-vehicles').textContent = state.stats.vehicles;
        $('stat-hazards').textContent = state.stats.hazards;
        $('stat-pedestrians').textContent = state.stats.pedestrians;
        $('stat-speed').textContent = Math.round(state.stats.speed);
        const hz = $('hazard-indicator');
        hz.className = 'hazard-indicator' + (state.hazard_active ? ' active' : '');
        hz.textContent = state.hazard_active ? 'HAZARD DETECTED' : 'ROAD CLEAR';
        renderLogs(state.stats.logs);
        renderSetting('cloud_relay', state.settings.cloud_relay);
        renderSetting('audio_cues', state.settings.audio_cues);
        $('model-name').textContent = state.model_name || '--';
        $('camera-btn').textContent = state.camera_active ? 'DISABLE_LIVE' : 'ENGAGE_LIVE';
        $('live-badge').classList.toggle('hidden', state.viewport !== 'live');
        $('clear-btn').classList.toggle('hidden', state.viewport !== 'static');

        if (state.viewport === 'static') {
            if (viewport !== 'static' || state.uploaded_image !== shownImage) {
                shownImage = state.uploaded_image;
                $('feed').src = 'data:image/jpeg;base64,' + shownImage;
            }
        } else if (state.viewport !== viewport) {
            shownImage = null;
            $('feed').src = base + '/video_feed?t=' + Date.now();
        }
        viewport = state.viewport;
    }

    $('camera-btn').addEventListener('click', () => post('/api/camera/toggle'));
    $('clear-btn').addEventListener('click', () => post('/api/upload/clear'));
    $('upload-input').addEventListener('change', (e) => {
        const file = e.target.files[0];
        if (!file) return;
        const form = new FormData();
        form.append('file', file);
        post('/api/upload', form);
        e.target.value = '';
    });
    for (const btn of document.querySelectorAll('[data-setting]')) {
        btn.addEventListener('click', () => post('/api/settings/' + btn.dataset.setting + '/toggle'));
    }

    const events = new EventSource(base + '/api/state/stream');
    events.onmessage = (msg) => render(JSON.parse(msg.data));
    events.onerror = (err) => console.warn('[Dashboard] state stream error', err);
})();
</script>
</body>
</html>
`))
