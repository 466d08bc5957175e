package dashboard

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
)

var pageTemplate = template.Must(template.New("dashboard").Parse(`
<!DOCTYPE html>
<html>
<head>
    <title>imlab</title>
    <meta charset="utf-8">
    <style>
        body { font-family: Arial, sans-serif; margin: 0; background-color: #f5f5f5; }
        nav { background: #2c3e50; padding: 10px 20px; }
        nav a { color: #ecf0f1; margin-right: 20px; cursor: pointer; text-decoration: none; }
        nav a.active { font-weight: bold; border-bottom: 2px solid #ecf0f1; }
        .page { display: none; padding: 20px; }
        .page.active { display: block; }
        .card { background: white; border-radius: 8px; padding: 20px; margin-bottom: 20px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); gap: 20px; }
        table { width: 100%; border-collapse: collapse; }
        td, th { padding: 6px; border-bottom: 1px solid #eee; text-align: left; }
        tr.selected { background: #d6eaf8; }
        img.thumb { width: 48px; height: 48px; }
        .status { font-weight: bold; }
        .bar { background: #3498db; height: 14px; }
    </style>
</head>
<body>
    <nav>
        {{range $i, $p := .Pages}}<a data-page="{{$i}}"{{if eq $i 0}} class="active"{{end}}>{{$p}}</a>{{end}}
        <span id="model-status" class="status" style="color:#ecf0f1;float:right">{{.Status.Training.Status}}</span>
    </nav>

    <div class="page active" data-page="0">
        <div class="grid">
            <div class="card">
                <video id="webcam" width="320" height="240" autoplay muted></video>
                <canvas id="canvas" width="320" height="240" style="display:none"></canvas>
                <div>
                    <input id="label" placeholder="label" value="{{.Status.Label.Text}}">
                    <button id="record">Hold to record</button>
                </div>
            </div>
            <div class="card">
                <h3>{{.Status.Dataset}} (<span id="count">{{.Status.Instances}}</span>)</h3>
                <a href="/api/datasets/{{.Status.Dataset}}/export">Export CSV</a>
                <table><tbody id="instances"></tbody></table>
            </div>
        </div>
    </div>

    <div class="page" data-page="1">
        <div class="card">
            <h3>Model {{.Status.Model}} ({{.Status.Kind}})</h3>
            <button id="train">Train</button>
            <pre id="training">{{.Status.ModelVersion}}</pre>
            <canvas id="curve" width="360" height="160"></canvas>
        </div>
        <div class="card">
            <h3>Parameters</h3>
            <textarea id="params" rows="6" cols="40"></textarea>
            <button id="save-params">Save</button>
            <pre id="params-status"></pre>
        </div>
    </div>

    <div class="page" data-page="2">
        <div class="grid">
            <div class="card">
                <h3>Prediction</h3>
                <div id="prediction"></div>
            </div>
            <div class="card">
                <h3>Explanation</h3>
                <select id="class">{{range .Status.Options}}<option>{{.}}</option>{{end}}</select>
                <div><img id="instance" width="160"> <img id="heatmap" width="160"></div>
            </div>
        </div>
    </div>

    <script>
        const dataset = "{{.Status.Dataset}}";
        const put = (path, body) => fetch(path, {method: 'PUT', headers: {'Content-Type': 'application/json'}, body: JSON.stringify(body)});

        document.querySelectorAll('nav a').forEach(a => a.onclick = () => {
            document.querySelectorAll('nav a, .page').forEach(e => e.classList.remove('active'));
            a.classList.add('active');
            document.querySelector('.page[data-page="' + a.dataset.page + '"]').classList.add('active');
        });

        const video = document.getElementById('webcam');
        const canvas = document.getElementById('canvas');
        navigator.mediaDevices.getUserMedia({video: true}).then(s => { video.srcObject = s; });
        setInterval(() => {
            if (!video.srcObject) return;
            canvas.getContext('2d').drawImage(video, 0, 0, canvas.width, canvas.height);
            canvas.toBlob(b => fetch('/api/frames', {method: 'POST', body: b}), 'image/jpeg');
        }, 100);

        const record = document.getElementById('record');
        record.onmousedown = () => put('/api/label', {kind: 'text', text: document.getElementById('label').value}).then(() => put('/api/capture', {pressed: true}));
        record.onmouseup = record.onmouseleave = () => put('/api/capture', {pressed: false});

        document.getElementById('train').onclick = () => fetch('/api/train', {method: 'POST'});

        const showParams = r => r.json().then(p => {
            if (p.error) { document.getElementById('params-status').textContent = p.error; return; }
            document.getElementById('params').value = JSON.stringify(p.params, null, 2);
            document.getElementById('params-status').textContent = p.training ? 'applies to the next run' : '';
        });
        fetch('/api/model/params').then(showParams);
        document.getElementById('save-params').onclick = () => {
            let body;
            try { body = JSON.parse(document.getElementById('params').value); } catch (e) { document.getElementById('params-status').textContent = e.message; return; }
            put('/api/model/params', body).then(showParams);
        };

        let curve = [];
        function drawCurve() {
            const c = document.getElementById('curve');
            const ctx = c.getContext('2d');
            ctx.clearRect(0, 0, c.width, c.height);
            if (curve.length === 0) return;
            const maxLoss = Math.max(...curve.map(r => r.loss), 1e-9);
            const x = i => curve.length === 1 ? c.width / 2 : i * (c.width - 1) / (curve.length - 1);
            [['loss', '#e74c3c', v => v / maxLoss], ['accuracy', '#27ae60', v => v]].forEach(([key, color, scale]) => {
                ctx.strokeStyle = color;
                ctx.beginPath();
                curve.forEach((r, i) => ctx.lineTo(x(i), c.height - scale(r[key] || 0) * (c.height - 4) - 2));
                ctx.stroke();
            });
        }
        fetch('/api/training/history').then(r => r.json()).then(h => { curve = h.records || []; drawCurve(); });
        document.getElementById('class').onchange = e => put('/api/class', {class: e.target.value});

        function loadInstances() {
            fetch('/api/datasets/' + dataset + '/instances').then(r => r.json()).then(rows => {
                const tbody = document.getElementById('instances');
                tbody.innerHTML = '';
                document.getElementById('count').textContent = rows.length;
                rows.forEach(row => {
                    const tr = document.createElement('tr');
                    tr.innerHTML = '<td><img class="thumb"></td><td></td><td></td>';
                    tr.querySelector('img').src = row.thumbnail;
                    tr.children[1].textContent = row.class;
                    tr.children[2].textContent = row.created_at;
                    tr.onclick = () => {
                        tbody.querySelectorAll('tr').forEach(t => t.classList.remove('selected'));
                        tr.classList.add('selected');
                        put('/api/selection', {ids: [row.id]});
                    };
                    tbody.appendChild(tr);
                });
            });
        }
        loadInstances();

        const handlers = {
            status: p => {
                document.getElementById('model-status').textContent = p.status || (p.training && p.training.status);
                if (p.status === 'training' && !p.epoch) { curve = []; drawCurve(); }
                if (p.epoch && (curve.length === 0 || p.epoch > curve[curve.length - 1].epoch)) { curve.push({epoch: p.epoch, loss: p.loss || 0, accuracy: p.accuracy || 0}); drawCurve(); }
                if (p.status === 'training') document.getElementById('training').textContent = 'epoch ' + p.epoch + '/' + p.epochs + ' loss ' + (p.loss || 0).toFixed(4);
                else if (p.status) document.getElementById('training').textContent = p.status + (p.error ? ': ' + p.error : '');
            },
            dataset: () => loadInstances(),
            options: p => {
                const sel = document.getElementById('class');
                sel.innerHTML = '';
                (p.options || []).forEach(o => { const opt = document.createElement('option'); opt.textContent = o; opt.selected = o === p.selected; sel.appendChild(opt); });
            },
            instance: p => { if (p.thumbnail) document.getElementById('instance').src = p.thumbnail; },
            prediction: p => {
                const pred = p.prediction;
                const div = document.getElementById('prediction');
                if (pred.task === 'regression') { div.textContent = pred.value.toFixed(3); return; }
                div.innerHTML = '';
                (pred.confidences || []).forEach(c => {
                    const row = document.createElement('div');
                    row.textContent = c.label + ' ' + (c.score * 100).toFixed(1) + '%';
                    const bar = document.createElement('div');
                    bar.className = 'bar';
                    bar.style.width = (c.score * 100) + '%';
                    row.appendChild(bar);
                    div.appendChild(row);
                });
            },
            explanation: p => { document.getElementById('heatmap').src = p.heatmap; },
            capture: p => { record.style.background = p.pressed ? '#e74c3c' : ''; },
        };

        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
        ws.onmessage = e => {
            const evt = JSON.parse(e.data);
            if (handlers[evt.type]) handlers[evt.type](evt.payload);
        };
    </script>
</body>
</html>
`))

type pageData struct {
	Pages  []string
	Status Status
}

// handlePage serves the single-page front end.
func (d *Dashboard) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if err := pageTemplate.Execute(w, pageData{Pages: Pages, Status: d.status()}); err != nil {
		log.Error().Err(err).Msg("Failed to render dashboard page")
	}
}
