package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>SecureWatch</title>
    <meta name="description" content="Login risk decisions and incident review">
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>◉</text></svg>">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --bg: #09090b;
            --bg-subtle: #18181b;
            --border: #27272a;
            --text: #fafafa;
            --text-secondary: #a1a1aa;
            --accent: #22c55e;
            --amber: #f59e0b;
            --red: #ef4444;
        }

        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
            background: var(--bg);
            color: var(--text);
            font-size: 14px;
        }

        header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            padding: 16px 24px;
            border-bottom: 1px solid var(--border);
        }

        header h1 { font-size: 16px; font-weight: 600; }
        #conn { color: var(--text-secondary); font-size: 12px; }
        #conn.live { color: var(--accent); }

        main { padding: 24px; max-width: 1200px; margin: 0 auto; }

        #alerts { margin-bottom: 24px; }
        .alert {
            border: 1px solid var(--red);
            background: rgba(239, 68, 68, 0.08);
            padding: 10px 14px;
            border-radius: 6px;
            margin-bottom: 8px;
            font-family: ui-monospace, monospace;
            font-size: 12px;
        }

        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 10px 8px; border-bottom: 1px solid var(--border); }
        th { color: var(--text-secondary); font-weight: 500; font-size: 12px; }
        td.mono { font-family: ui-monospace, monospace; font-size: 12px; }

        .ALLOW { color: var(--accent); }
        .MFA_CHALLENGE { color: var(--amber); }
        .BLOCK { color: var(--red); }

        button {
            background: var(--bg-subtle);
            color: var(--text);
            border: 1px solid var(--border);
            border-radius: 4px;
            padding: 4px 8px;
            cursor: pointer;
            font-size: 12px;
        }
        button:hover { border-color: var(--text-secondary); }
        a { color: var(--text-secondary); }
        .empty { color: var(--text-secondary); padding: 24px 0; }
    </style>
</head>
<body>
    <header>
        <h1>SecureWatch</h1>
        <span id="conn">connecting...</span>
    </header>
    <main>
        <section id="alerts"></section>
        <table>
            <thead>
                <tr>
                    <th>Time</th><th>User</th><th>Location</th><th>IP</th><th>Device</th>
                    <th>Risk</th><th>Verdict</th><th>Reason</th><th>Status</th><th></th>
                </tr>
            </thead>
            <tbody id="rows"></tbody>
        </table>
        <div id="empty" class="empty">No login decisions yet.</div>
    </main>
    <script>
        const rows = document.getElementById('rows');
        const empty = document.getElementById('empty');

        function esc(s) {
            const d = document.createElement('div');
            d.textContent = s == null ? '' : String(s);
            return d.innerHTML;
        }

        async function feedback(id, action) {
            await fetch('/security/feedback', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({log_id: id, action: action})
            });
            loadHistory();
        }

        async function loadHistory() {
            const res = await fetch('/security/history');
            if (!res.ok) return;
            const records = await res.json();
            empty.style.display = records.length ? 'none' : 'block';
            rows.innerHTML = records.map(r =>
                '<tr>' +
                '<td>' + esc(r.time) + '</td>' +
                '<td class="mono">' + esc(r.user_id) + '</td>' +
                '<td>' + esc(r.location) + '</td>' +
                '<td class="mono">' + esc(r.ip) + '</td>' +
                '<td>' + esc(r.device) + '</td>' +
                '<td class="mono">' + Number(r.risk_score).toFixed(4) + '</td>' +
                '<td class="' + esc(r.verdict) + '">' + esc(r.verdict) + '</td>' +
                '<td>' + esc(r.reason) + '</td>' +
                '<td>' + esc(r.status) + '</td>' +
                '<td>' +
                '<button onclick="feedback(\'' + esc(r.id) + '\', \'confirm_fraud\')">Fraud</button> ' +
                '<button onclick="feedback(\'' + esc(r.id) + '\', \'verify_safe\')">Safe</button> ' +
                '<a href="/security/report/' + esc(r.id) + '">PDF</a>' +
                '</td>' +
                '</tr>'
            ).join('');
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(proto + location.host + '/ws/alerts');
            const conn = document.getElementById('conn');
            ws.onopen = () => { conn.textContent = 'live'; conn.className = 'live'; };
            ws.onclose = () => {
                conn.textContent = 'reconnecting...';
                conn.className = '';
                setTimeout(connect, 3000);
            };
            ws.onmessage = (msg) => {
                const ev = JSON.parse(msg.data);
                if (ev.type !== 'CRITICAL_ALERT') return;
                const el = document.createElement('div');
                el.className = 'alert';
                el.textContent = ev.message;
                const alerts = document.getElementById('alerts');
                alerts.prepend(el);
                while (alerts.children.length > 5) alerts.lastChild.remove();
                loadHistory();
            };
        }

        loadHistory();
        connect();
        setInterval(loadHistory, 5000);
    </script>
</body>
</html>`

// dashboardHandler serves the incident console
func dashboardHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}
